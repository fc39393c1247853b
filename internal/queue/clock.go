package queue

import "time"

// Clock abstracts time so backoff and retention behavior can be tested
// without real delays.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns a Clock backed by time.Now in UTC.
func SystemClock() Clock {
	return systemClock{}
}
