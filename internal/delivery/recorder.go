package delivery

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
)

// Recorder is the append-only sink for delivery audit entries.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRecorder(db *gorm.DB, logger *zap.Logger) *Recorder {
	return &Recorder{
		db:     db,
		logger: logger,
	}
}

// RecordDelivery inserts one immutable record. Write failures are logged
// and swallowed: observability must never block the delivery it observes.
func (r *Recorder) RecordDelivery(ctx context.Context, rec models.DeliveryRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.URL = MaskURL(rec.URL)

	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		r.logger.Warn("Failed to record webhook delivery",
			zap.String("event", rec.Event),
			zap.Error(err),
		)
	}
}

// MaskURL strips credentials and query values from a destination URL
// before it is persisted. Subscriber endpoints often carry tokens in
// userinfo or query parameters.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			q.Set(key, "***")
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
