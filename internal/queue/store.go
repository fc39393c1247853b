package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
)

// ErrNotPending is returned by MarkProcessing when the item was already
// claimed, finished, or does not exist.
var ErrNotPending = errors.New("queue item is not pending")

// queue selection orders by priority first, then oldest-ready.
const priorityOrder = "CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, next_attempt_at ASC"

// EnqueueOptions tune a single Enqueue call. Zero values fall back to
// the defaults (5 attempts, normal priority, no delay).
type EnqueueOptions struct {
	MaxAttempts  int
	Priority     models.Priority
	DelaySeconds int
}

// Store persists webhook queue items. All status transitions of the
// QueueItem state machine go through this type.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  Clock
}

// NewStore creates a queue store with injected dependencies.
func NewStore(db *gorm.DB, logger *zap.Logger, clock Clock) *Store {
	if clock == nil {
		clock = SystemClock()
	}
	return &Store{
		db:     db,
		logger: logger,
		clock:  clock,
	}
}

// Enqueue creates a new pending queue item and returns its id. Unlike
// delivery itself, a store failure here is propagated to the caller:
// losing the durability guarantee silently would defeat the queue's
// purpose.
func (s *Store) Enqueue(ctx context.Context, event models.Event, url string, payload any, opts EnqueueOptions) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal queue payload: %w", err)
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Priority == "" {
		opts.Priority = models.PriorityNormal
	}

	now := s.clock.Now()
	item := models.QueueItem{
		ID:            uuid.New(),
		Event:         string(event),
		URL:           url,
		Payload:       string(body),
		Status:        models.StatusPending,
		Attempts:      0,
		MaxAttempts:   opts.MaxAttempts,
		Priority:      opts.Priority,
		NextAttemptAt: now.Add(time.Duration(opts.DelaySeconds) * time.Second),
		CreatedAt:     now,
	}

	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue webhook: %w", err)
	}

	s.logger.Info("Webhook enqueued",
		zap.String("id", item.ID.String()),
		zap.String("event", item.Event),
		zap.String("priority", string(item.Priority)),
		zap.Time("next_attempt_at", item.NextAttemptAt),
	)
	return item.ID, nil
}

// GetPendingWebhooks returns up to limit items that are pending and ready
// (next_attempt_at <= now), ordered by priority descending then
// oldest-ready first.
func (s *Store) GetPendingWebhooks(ctx context.Context, limit int) ([]models.QueueItem, error) {
	var items []models.QueueItem
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.StatusPending, s.clock.Now()).
		Order(priorityOrder).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pending webhooks: %w", err)
	}
	return items, nil
}

// MarkProcessing claims an item before the network call is made. The
// conditional update doubles as a per-item compare-and-swap: a second
// claim of the same item returns ErrNotPending.
func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":          models.StatusProcessing,
			"last_attempt_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark webhook as processing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

// MarkAsCompleted transitions a processing item to its terminal
// completed state.
func (s *Store) MarkAsCompleted(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.StatusCompleted,
			"completed_at": s.clock.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark webhook as completed: %w", err)
	}
	return nil
}

// MarkAsFailed records a failed attempt. While attempts remain the item
// goes back to pending with an exponentially backed-off next_attempt_at;
// once attempts are exhausted it becomes terminally failed.
func (s *Store) MarkAsFailed(ctx context.Context, id uuid.UUID, message string) error {
	var item models.QueueItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to load queue item %s: %w", id, err)
	}

	now := s.clock.Now()
	attempts := item.Attempts + 1
	updates := map[string]interface{}{
		"attempts": attempts,
		"error":    message,
	}

	if attempts < item.MaxAttempts {
		updates["status"] = models.StatusPending
		updates["next_attempt_at"] = now.Add(retryDelay(attempts))
	} else {
		updates["status"] = models.StatusFailed
		updates["completed_at"] = now
	}

	err := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to mark webhook as failed: %w", err)
	}

	if attempts >= item.MaxAttempts {
		s.logger.Warn("Webhook permanently failed (max attempts reached)",
			zap.String("id", id.String()),
			zap.String("event", item.Event),
			zap.Int("attempts", attempts),
			zap.String("last_error", message),
		)
	}
	return nil
}

// RecoverStuckWebhooks resets orphaned processing items back to pending
// with an immediate next attempt. An item left in processing means a
// prior run crashed between claim and completion. Re-running against an
// already recovered set is a no-op. Returns the number of items reset.
func (s *Store) RecoverStuckWebhooks(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("status = ?", models.StatusProcessing).
		Updates(map[string]interface{}{
			"status":          models.StatusPending,
			"next_attempt_at": s.clock.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to recover stuck webhooks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CleanOldWebhooks deletes completed items older than the given number of
// days. Failed items are kept for audit. Returns the number deleted.
func (s *Store) CleanOldWebhooks(ctx context.Context, days int) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -days)
	res := s.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", models.StatusCompleted, cutoff).
		Delete(&models.QueueItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean old webhooks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats returns the number of queue items per status.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}

	stats := map[string]int64{
		models.StatusPending:    0,
		models.StatusProcessing: 0,
		models.StatusCompleted:  0,
		models.StatusFailed:     0,
	}
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}
