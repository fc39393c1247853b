package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/config"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/metrics"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/queue"
)

const userAgent = "bcv-service/1.0"

// Result is the outcome of one logical notification send.
type Result struct {
	Success    bool   `json:"success"`
	URL        string `json:"url"`
	StatusCode *int   `json:"status_code,omitempty"`
	Attempt    int    `json:"attempt"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// DurableQueue receives notifications whose immediate retry loop was
// exhausted, for longer-horizon retry by the queue worker.
type DurableQueue interface {
	Enqueue(ctx context.Context, event models.Event, url string, payload any, opts queue.EnqueueOptions) (uuid.UUID, error)
}

// DeliveryRecorder appends one audit entry per logical send outcome.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, rec models.DeliveryRecord)
}

// Sender delivers webhook notifications with a bounded immediate retry
// loop and escalates exhausted sends to the durable queue. Delivery is
// best-effort: nothing in the send path ever panics past or returns an
// error to the producer of the event.
type Sender struct {
	cfg      config.WebhookConfig
	queueMax int
	client   *http.Client
	queue    DurableQueue
	recorder DeliveryRecorder
	logger   *zap.Logger

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

// NewSender creates a webhook sender. queueMaxAttempts is the attempt
// ceiling given to items escalated to the durable queue.
func NewSender(cfg config.WebhookConfig, queueMaxAttempts int, q DurableQueue, recorder DeliveryRecorder, logger *zap.Logger) *Sender {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 5
	}
	if queueMaxAttempts <= 0 {
		queueMaxAttempts = 5
	}
	if cfg.Secret == "" {
		logger.Warn("No webhook secret configured, outbound requests will not be signed")
	}
	return &Sender{
		cfg:      cfg,
		queueMax: queueMaxAttempts,
		client:   &http.Client{Timeout: cfg.Timeout()},
		queue:    q,
		recorder: recorder,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// SendRateNotification delivers a rate.updated / rate.changed event to the
// configured rate webhook URL.
func (s *Sender) SendRateNotification(ctx context.Context, event models.Event, data models.RateData) Result {
	return s.sendNotification(ctx, s.payload(event, data), s.cfg.RateURL)
}

// SendStatusNotification delivers a service.* event to the configured
// status webhook URL.
func (s *Sender) SendStatusNotification(ctx context.Context, event models.Event, data models.StatusData) Result {
	return s.sendNotification(ctx, s.payload(event, data), s.cfg.StatusURL)
}

// SendDeploymentNotification delivers a deployment.* event to the
// configured deployment webhook URL.
func (s *Sender) SendDeploymentNotification(ctx context.Context, event models.Event, data models.DeploymentData) Result {
	return s.sendNotification(ctx, s.payload(event, data), s.cfg.DeploymentURL)
}

func (s *Sender) payload(event models.Event, data any) models.WebhookPayload {
	return models.WebhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// sendNotification attempts delivery up to MaxRetries times with
// exponential backoff (1s, 2s, 4s... before attempts 2, 3, 4...). On
// exhaustion the payload is escalated to the durable queue with a
// deferred first attempt; escalation failures are logged, never
// propagated.
func (s *Sender) sendNotification(ctx context.Context, payload models.WebhookPayload, targetURL string) Result {
	event := string(payload.Event)

	if targetURL == "" {
		s.logger.Debug("No webhook URL configured for event, skipping",
			zap.String("event", event),
		)
		return Result{Success: false, Error: "no webhook URL configured"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal webhook payload",
			zap.String("event", event),
			zap.Error(err),
		)
		return Result{Success: false, URL: targetURL, Error: fmt.Sprintf("failed to marshal payload: %v", err)}
	}

	var (
		lastStatus   *int
		lastDuration time.Duration
		lastErr      error
	)

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			s.sleep(time.Duration(1<<uint(attempt-2)) * time.Second)
		}

		statusCode, duration, err := s.DeliverAttempt(ctx, targetURL, event, body, attempt)
		lastStatus, lastDuration, lastErr = statusCode, duration, err

		if err == nil {
			s.recordOutcome(ctx, event, targetURL, string(body), statusCode, attempt, duration, nil)
			s.logger.Info("Webhook delivered",
				zap.String("event", event),
				zap.Int("attempt", attempt),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
			return Result{
				Success:    true,
				URL:        targetURL,
				StatusCode: statusCode,
				Attempt:    attempt,
				DurationMs: duration.Milliseconds(),
			}
		}

		s.logger.Warn("Webhook delivery attempt failed",
			zap.String("event", event),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", s.cfg.MaxRetries),
			zap.Error(err),
		)
	}

	s.recordOutcome(ctx, event, targetURL, string(body), lastStatus, s.cfg.MaxRetries, lastDuration, lastErr)

	// All immediate attempts failed, hand off to the durable queue.
	opts := queue.EnqueueOptions{
		MaxAttempts:  s.queueMax,
		Priority:     models.PriorityFor(payload.Event),
		DelaySeconds: s.cfg.QueueDelaySeconds,
	}
	if _, qErr := s.queue.Enqueue(ctx, payload.Event, targetURL, payload, opts); qErr != nil {
		s.logger.Error("Failed to enqueue webhook for deferred retry",
			zap.String("event", event),
			zap.Error(qErr),
		)
	} else {
		metrics.EnqueuedTotal.WithLabelValues(event).Inc()
		s.logger.Info("Webhook escalated to durable queue",
			zap.String("event", event),
			zap.String("priority", string(opts.Priority)),
			zap.Int("delay_seconds", opts.DelaySeconds),
		)
	}

	return Result{
		Success:    false,
		URL:        targetURL,
		StatusCode: lastStatus,
		Attempt:    s.cfg.MaxRetries,
		DurationMs: lastDuration.Milliseconds(),
		Error:      lastErr.Error(),
	}
}

func (s *Sender) recordOutcome(ctx context.Context, event, url, payload string, statusCode *int, attempts int, duration time.Duration, err error) {
	rec := models.DeliveryRecord{
		Event:      event,
		URL:        url,
		Payload:    payload,
		Success:    err == nil,
		StatusCode: statusCode,
		Attempts:   attempts,
		DurationMs: duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	outcome := "success"
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
		outcome = "failure"
	}
	s.recorder.RecordDelivery(ctx, rec)
	metrics.DeliveriesTotal.WithLabelValues(event, outcome).Inc()
	metrics.DeliveryDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// DeliverAttempt performs one signed HTTP POST. A 2xx response returns a
// nil error; a transport error or any other status is an attempt failure.
// The same scheme serves the immediate path and the queue worker.
func (s *Sender) DeliverAttempt(ctx context.Context, url string, event string, body []byte, attempt int) (*int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(attempt))

	if s.cfg.Secret != "" {
		signature, err := GenerateSignature(body, s.cfg.Secret)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to sign payload: %w", err)
		}
		req.Header.Set("X-Webhook-Signature", signature)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, duration, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	statusCode := resp.StatusCode
	if statusCode < 200 || statusCode >= 300 {
		return &statusCode, duration, fmt.Errorf("unexpected status %d", statusCode)
	}
	return &statusCode, duration, nil
}
