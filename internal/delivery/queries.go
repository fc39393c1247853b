package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
)

// StatsFilter optionally scopes aggregate statistics to an event name
// and/or a time window starting at Since.
type StatsFilter struct {
	Event string
	Since time.Time
}

// Stats is an aggregate view of recorded deliveries.
type Stats struct {
	Total       int64      `json:"total"`
	Succeeded   int64      `json:"succeeded"`
	Failed      int64      `json:"failed"`
	SuccessRate float64    `json:"success_rate"`
	AvgDuration float64    `json:"avg_duration_ms"`
	LastAt      *time.Time `json:"last_delivery_at"`
	LastSuccess *time.Time `json:"last_success_at"`
	LastFailure *time.Time `json:"last_failure_at"`
}

// Recent returns the most recent limit records, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	return r.list(ctx, r.db.WithContext(ctx), limit)
}

// ByEvent returns the most recent limit records for one event name.
func (r *Recorder) ByEvent(ctx context.Context, event string, limit int) ([]models.DeliveryRecord, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("event = ?", event), limit)
}

// ByURL returns the most recent limit records for one destination URL.
// URLs are stored masked, so the filter is applied to the masked form.
func (r *Recorder) ByURL(ctx context.Context, rawURL string, limit int) ([]models.DeliveryRecord, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("url = ?", MaskURL(rawURL)), limit)
}

func (r *Recorder) list(ctx context.Context, tx *gorm.DB, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 25
	}
	var records []models.DeliveryRecord
	if err := tx.Order("timestamp DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query delivery records: %w", err)
	}
	return records, nil
}

// GetStats computes aggregate delivery statistics, optionally scoped by
// the filter.
func (r *Recorder) GetStats(ctx context.Context, filter StatsFilter) (*Stats, error) {
	scope := func() *gorm.DB {
		tx := r.db.WithContext(ctx).Model(&models.DeliveryRecord{})
		if filter.Event != "" {
			tx = tx.Where("event = ?", filter.Event)
		}
		if !filter.Since.IsZero() {
			tx = tx.Where("timestamp >= ?", filter.Since)
		}
		return tx
	}

	stats := &Stats{}

	if err := scope().Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}
	if err := scope().Where("success = ?", true).Count(&stats.Succeeded).Error; err != nil {
		return nil, fmt.Errorf("failed to count successful deliveries: %w", err)
	}
	stats.Failed = stats.Total - stats.Succeeded
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total) * 100
	}

	if stats.Total > 0 {
		var avg *float64
		if err := scope().Select("AVG(duration_ms)").Scan(&avg).Error; err != nil {
			return nil, fmt.Errorf("failed to compute mean duration: %w", err)
		}
		if avg != nil {
			stats.AvgDuration = *avg
		}

		var err error
		if stats.LastAt, err = r.lastTimestamp(scope()); err != nil {
			return nil, err
		}
		if stats.LastSuccess, err = r.lastTimestamp(scope().Where("success = ?", true)); err != nil {
			return nil, err
		}
		if stats.LastFailure, err = r.lastTimestamp(scope().Where("success = ?", false)); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

func (r *Recorder) lastTimestamp(tx *gorm.DB) (*time.Time, error) {
	var rec models.DeliveryRecord
	err := tx.Order("timestamp DESC").Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last delivery timestamp: %w", err)
	}
	ts := rec.Timestamp
	return &ts, nil
}
