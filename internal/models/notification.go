package models

import (
	"strings"
	"time"
)

// Webhook event names published by this service.
const (
	EventRateUpdated Event = "rate.updated"
	EventRateChanged Event = "rate.changed"

	EventServiceHealthy   Event = "service.healthy"
	EventServiceUnhealthy Event = "service.unhealthy"
	EventServiceDegraded  Event = "service.degraded"

	EventDeploymentStarted Event = "deployment.started"
	EventDeploymentSuccess Event = "deployment.success"
	EventDeploymentFailure Event = "deployment.failure"
)

// Event is a symbolic webhook event name, e.g. "rate.changed".
type Event string

// Family returns the notification family prefix ("rate", "service",
// "deployment").
func (e Event) Family() string {
	name := string(e)
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

// PriorityFor maps an event to the durable-queue priority used when the
// immediate retry loop is exhausted. Service outages and failed deployments
// must not starve behind a backlog of rate-change retries.
func PriorityFor(event Event) Priority {
	switch event {
	case EventServiceUnhealthy, EventDeploymentFailure:
		return PriorityHigh
	case EventRateUpdated, EventRateChanged:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// WebhookPayload is the wire body sent to subscribers. Data is one of
// RateData, StatusData or DeploymentData depending on the event family.
type WebhookPayload struct {
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// RateEntry is one currency quote from the central bank feed.
type RateEntry struct {
	Currency string  `json:"currency"`
	Rate     float64 `json:"rate"`
	Name     string  `json:"name"`
}

// RateChange describes the delta that triggered a rate.changed event.
type RateChange struct {
	PreviousRate     float64 `json:"previousRate"`
	CurrentRate      float64 `json:"currentRate"`
	PercentageChange float64 `json:"percentageChange"`
}

// RateData is the payload body for rate.updated / rate.changed.
type RateData struct {
	Date   string      `json:"date"`
	Rates  []RateEntry `json:"rates"`
	Change *RateChange `json:"change,omitempty"`
}

// CheckResult is one named health check inside a status notification.
type CheckResult struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusData is the payload body for service.* events.
type StatusData struct {
	Status         string                 `json:"status"`
	Uptime         float64                `json:"uptime"`
	Checks         map[string]CheckResult `json:"checks"`
	PreviousStatus string                 `json:"previousStatus,omitempty"`
}

// DeploymentData is the payload body for deployment.* events.
type DeploymentData struct {
	DeploymentID string `json:"deploymentId,omitempty"`
	Environment  string `json:"environment,omitempty"`
	Version      string `json:"version,omitempty"`
	Duration     int64  `json:"duration,omitempty"`
	Message      string `json:"message,omitempty"`
}
