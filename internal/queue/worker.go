package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/metrics"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
)

// Deliverer performs one signed HTTP delivery attempt. A nil error means
// the endpoint answered 2xx. The returned status code is nil on transport
// errors.
type Deliverer interface {
	DeliverAttempt(ctx context.Context, url string, event string, body []byte, attempt int) (statusCode *int, duration time.Duration, err error)
}

// DeliveryRecorder appends one audit entry per attempt. Implementations
// must never fail the delivery path; write errors are swallowed.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, rec models.DeliveryRecord)
}

// WorkerOptions configure the queue worker's schedule.
type WorkerOptions struct {
	Interval      time.Duration
	BatchSize     int
	RetentionDays int
	Clock         Clock
}

// Worker drives the durable queue: it periodically dequeues ready items,
// attempts delivery, updates queue state, and prunes old completed items.
//
// At most one Worker instance must run against a given store; the
// reentrancy guard is in-process only and does not protect a second
// process.
type Worker struct {
	store     *Store
	deliverer Deliverer
	recorder  DeliveryRecorder
	logger    *zap.Logger
	clock     Clock

	interval      time.Duration
	batchSize     int
	retentionDays int

	ctx        context.Context
	cancel     context.CancelFunc
	processing atomic.Bool

	mu      sync.Mutex
	started bool
}

// NewWorker creates a queue worker with injected dependencies.
func NewWorker(store *Store, deliverer Deliverer, recorder DeliveryRecorder, logger *zap.Logger, opts WorkerOptions) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 7
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:         store,
		deliverer:     deliverer,
		recorder:      recorder,
		logger:        logger,
		clock:         opts.Clock,
		interval:      opts.Interval,
		batchSize:     opts.BatchSize,
		retentionDays: opts.RetentionDays,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start recovers stuck items, runs one immediate processing pass, and
// schedules recurring passes plus a daily retention sweep. Starting an
// already-started worker is a logged no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		w.logger.Warn("Queue worker already started, ignoring")
		return
	}
	w.started = true

	recovered, err := w.store.RecoverStuckWebhooks(w.ctx)
	if err != nil {
		// Best effort: items left in processing will be picked up on
		// the next restart.
		w.logger.Error("Failed to recover stuck webhooks", zap.Error(err))
	} else if recovered > 0 {
		w.logger.Info("Recovered stuck webhooks", zap.Int64("count", recovered))
	}

	go w.run()

	w.logger.Info("Queue worker started",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize),
		zap.Int("retention_days", w.retentionDays),
	)
}

// Stop cancels the worker's timers. In-flight attempts are not
// interrupted; they complete, time out, or die with the process.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}
	w.started = false
	w.cancel()
	w.logger.Info("Queue worker stopped")
}

func (w *Worker) run() {
	if err := w.ProcessQueue(w.ctx); err != nil {
		w.logger.Error("Queue processing pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(24 * time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessQueue(w.ctx); err != nil {
				w.logger.Error("Queue processing pass failed", zap.Error(err))
			}
		case <-cleanup.C:
			deleted, err := w.store.CleanOldWebhooks(w.ctx, w.retentionDays)
			if err != nil {
				w.logger.Error("Retention sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				w.logger.Info("Retention sweep removed old webhooks",
					zap.Int64("deleted", deleted),
					zap.Int("retention_days", w.retentionDays),
				)
			}
		}
	}
}

// ProcessQueue runs one processing pass: fetch a bounded batch of ready
// items and attempt them concurrently, waiting for all outcomes. Guarded
// against overlapping passes from the same process.
func (w *Worker) ProcessQueue(ctx context.Context) error {
	if !w.processing.CompareAndSwap(false, true) {
		w.logger.Debug("Queue processing already in progress, skipping pass")
		return nil
	}
	defer w.processing.Store(false)

	items, err := w.store.GetPendingWebhooks(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	w.logger.Info("Processing webhook queue batch", zap.Int("count", len(items)))

	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(item models.QueueItem) {
			defer wg.Done()
			w.processItem(ctx, item)
		}(items[i])
	}
	wg.Wait()
	return nil
}

// processItem claims one item, attempts delivery, and records the
// outcome. Failures here are isolated: they are logged and never abort
// the sibling items of the batch.
func (w *Worker) processItem(ctx context.Context, item models.QueueItem) {
	if err := w.store.MarkProcessing(ctx, item.ID); err != nil {
		if errors.Is(err, ErrNotPending) {
			w.logger.Debug("Queue item already claimed, skipping",
				zap.String("id", item.ID.String()),
			)
		} else {
			w.logger.Error("Failed to claim queue item",
				zap.String("id", item.ID.String()),
				zap.Error(err),
			)
		}
		return
	}

	attempt := item.Attempts + 1
	statusCode, duration, err := w.deliverer.DeliverAttempt(ctx, item.URL, item.Event, []byte(item.Payload), attempt)

	rec := models.DeliveryRecord{
		Event:      item.Event,
		URL:        item.URL,
		Payload:    item.Payload,
		Success:    err == nil,
		StatusCode: statusCode,
		Attempts:   attempt,
		DurationMs: duration.Milliseconds(),
		Timestamp:  w.clock.Now(),
	}
	outcome := "success"
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
		outcome = "failure"
	}
	w.recorder.RecordDelivery(ctx, rec)
	metrics.DeliveriesTotal.WithLabelValues(item.Event, outcome).Inc()
	metrics.DeliveryDuration.WithLabelValues(item.Event).Observe(duration.Seconds())

	if err == nil {
		if markErr := w.store.MarkAsCompleted(ctx, item.ID); markErr != nil {
			// Item stays in processing and is recovered on next startup.
			w.logger.Error("Failed to mark webhook as completed",
				zap.String("id", item.ID.String()),
				zap.Error(markErr),
			)
			return
		}
		w.logger.Info("Queued webhook delivered",
			zap.String("id", item.ID.String()),
			zap.String("event", item.Event),
			zap.Int("attempt", attempt),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
		return
	}

	w.logger.Warn("Queued webhook delivery failed",
		zap.String("id", item.ID.String()),
		zap.String("event", item.Event),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", item.MaxAttempts),
		zap.Error(err),
	)
	if markErr := w.store.MarkAsFailed(ctx, item.ID, err.Error()); markErr != nil {
		w.logger.Error("Failed to mark webhook as failed",
			zap.String("id", item.ID.String()),
			zap.Error(markErr),
		)
	}
}
