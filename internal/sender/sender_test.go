package sender

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/config"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/queue"
)

type enqueueCall struct {
	event models.Event
	url   string
	opts  queue.EnqueueOptions
}

type fakeQueue struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, event models.Event, url string, _ any, opts queue.EnqueueOptions) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return uuid.Nil, q.err
	}
	q.calls = append(q.calls, enqueueCall{event: event, url: url, opts: opts})
	return uuid.New(), nil
}

func (q *fakeQueue) all() []enqueueCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueueCall(nil), q.calls...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []models.DeliveryRecord
}

func (r *fakeRecorder) RecordDelivery(_ context.Context, rec models.DeliveryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *fakeRecorder) all() []models.DeliveryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.DeliveryRecord(nil), r.records...)
}

func newTestSender(rateURL string, q *fakeQueue, rec *fakeRecorder) (*Sender, *[]time.Duration) {
	cfg := config.WebhookConfig{
		RateURL:           rateURL,
		Secret:            "test-secret",
		TimeoutSeconds:    5,
		MaxRetries:        3,
		QueueDelaySeconds: 300,
	}
	s := NewSender(cfg, 5, q, rec, zap.NewNop())
	var sleeps []time.Duration
	s.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return s, &sleeps
}

func rateData() models.RateData {
	return models.RateData{
		Date: "2025-06-01",
		Rates: []models.RateEntry{
			{Currency: "USD", Rate: 37.2, Name: "Dólar"},
		},
		Change: &models.RateChange{PreviousRate: 36.9, CurrentRate: 37.2, PercentageChange: 0.81},
	}
}

func TestSendNotificationSuccessFirstAttempt(t *testing.T) {
	var (
		mu       sync.Mutex
		received http.Header
		body     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := &fakeQueue{}
	rec := &fakeRecorder{}
	s, sleeps := newTestSender(srv.URL, q, rec)

	result := s.SendRateNotification(context.Background(), models.EventRateChanged, rateData())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempt)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusOK, *result.StatusCode)
	assert.Empty(t, *sleeps, "first attempt fires immediately")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", received.Get("Content-Type"))
	assert.Equal(t, "bcv-service/1.0", received.Get("User-Agent"))
	assert.Equal(t, "rate.changed", received.Get("X-Webhook-Event"))
	assert.Equal(t, "1", received.Get("X-Webhook-Attempt"))
	assert.NotEmpty(t, received.Get("X-Webhook-Timestamp"))
	assert.True(t, VerifySignature(body, "test-secret", received.Get("X-Webhook-Signature")),
		"signature must verify against the exact bytes sent")

	records := rec.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Empty(t, q.all(), "successful sends are not enqueued")
}

func TestSendNotificationExhaustionEscalatesToQueue(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := &fakeQueue{}
	rec := &fakeRecorder{}
	s, sleeps := newTestSender(srv.URL, q, rec)

	result := s.SendRateNotification(context.Background(), models.EventRateChanged, rateData())

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempt)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusInternalServerError, *result.StatusCode)
	assert.Contains(t, result.Error, "unexpected status 500")

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()

	// Exponential delays before attempts 2 and 3.
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *sleeps)

	records := rec.all()
	require.Len(t, records, 1, "one record per logical send")
	assert.False(t, records[0].Success)
	assert.Equal(t, 3, records[0].Attempts)

	calls := q.all()
	require.Len(t, calls, 1)
	assert.Equal(t, models.EventRateChanged, calls[0].event)
	assert.Equal(t, srv.URL, calls[0].url)
	assert.Equal(t, 5, calls[0].opts.MaxAttempts)
	assert.Equal(t, models.PriorityLow, calls[0].opts.Priority, "rate events queue at low priority")
	assert.Equal(t, 300, calls[0].opts.DelaySeconds)
}

func TestSendNotificationTransportError(t *testing.T) {
	// A closed server produces a connection error rather than a status.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	q := &fakeQueue{}
	rec := &fakeRecorder{}
	s, _ := newTestSender(url, q, rec)

	result := s.SendRateNotification(context.Background(), models.EventRateChanged, rateData())

	assert.False(t, result.Success)
	assert.Nil(t, result.StatusCode)
	assert.NotEmpty(t, result.Error)
	assert.Len(t, q.all(), 1, "transport failures escalate to the queue like HTTP failures")
}

func TestSendNotificationNoURLConfigured(t *testing.T) {
	q := &fakeQueue{}
	rec := &fakeRecorder{}
	s, _ := newTestSender("", q, rec)

	result := s.SendRateNotification(context.Background(), models.EventRateChanged, rateData())

	assert.False(t, result.Success)
	assert.Equal(t, "no webhook URL configured", result.Error)
	assert.Empty(t, rec.all(), "no attempt, no record")
	assert.Empty(t, q.all())
}

func TestSendNotificationEnqueueFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	q := &fakeQueue{err: errors.New("store unavailable")}
	rec := &fakeRecorder{}
	s, _ := newTestSender(srv.URL, q, rec)

	// Must not panic or error out: delivery is best-effort for callers.
	result := s.SendRateNotification(context.Background(), models.EventRateChanged, rateData())
	assert.False(t, result.Success)
}

func TestSendNotificationUnsignedWithoutSecret(t *testing.T) {
	var received http.Header
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.WebhookConfig{RateURL: srv.URL, TimeoutSeconds: 5, MaxRetries: 3}
	s := NewSender(cfg, 5, &fakeQueue{}, &fakeRecorder{}, zap.NewNop())

	result := s.SendRateNotification(context.Background(), models.EventRateChanged, rateData())
	assert.True(t, result.Success)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, received.Get("X-Webhook-Signature"))
}

func TestPriorityEscalationByEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := &fakeQueue{}
	rec := &fakeRecorder{}
	cfg := config.WebhookConfig{
		StatusURL:      srv.URL,
		DeploymentURL:  srv.URL,
		TimeoutSeconds: 5,
		MaxRetries:     1,
	}
	s := NewSender(cfg, 5, q, rec, zap.NewNop())
	s.sleep = func(time.Duration) {}

	s.SendStatusNotification(context.Background(), models.EventServiceUnhealthy, models.StatusData{Status: "unhealthy"})
	s.SendDeploymentNotification(context.Background(), models.EventDeploymentFailure, models.DeploymentData{Environment: "production"})
	s.SendDeploymentNotification(context.Background(), models.EventDeploymentStarted, models.DeploymentData{Environment: "production"})

	calls := q.all()
	require.Len(t, calls, 3)
	assert.Equal(t, models.PriorityHigh, calls[0].opts.Priority)
	assert.Equal(t, models.PriorityHigh, calls[1].opts.Priority)
	assert.Equal(t, models.PriorityNormal, calls[2].opts.Priority)
}
