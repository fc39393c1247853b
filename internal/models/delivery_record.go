package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryRecord is an immutable audit entry for one webhook delivery
// attempt, immediate or queued. Records are write-once and only read
// back for listings and aggregate statistics.
type DeliveryRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Event      string    `gorm:"not null;index:idx_webhook_deliveries_event" json:"event"`
	URL        string    `gorm:"not null;index:idx_webhook_deliveries_url" json:"url"`
	Payload    string    `gorm:"type:jsonb" json:"payload"`
	Success    bool      `gorm:"not null;index:idx_webhook_deliveries_success" json:"success"`
	StatusCode *int      `gorm:"type:integer" json:"status_code"`
	Error      *string   `json:"error"`
	Attempts   int       `gorm:"not null" json:"attempts"`
	DurationMs int64     `gorm:"not null" json:"duration_ms"`
	Timestamp  time.Time `gorm:"not null;index:,sort:desc" json:"timestamp"`
}

func (DeliveryRecord) TableName() string {
	return "webhook_deliveries"
}
