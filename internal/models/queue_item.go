package models

import (
	"time"

	"github.com/google/uuid"
)

// Queue item statuses. pending and processing are transient,
// completed and failed are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Priority orders pending-queue selection. It never preempts in-flight work.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// QueueItem is one durable webhook delivery obligation. Items are created
// by Enqueue, claimed by the queue worker (pending -> processing) and end
// up completed or failed.
type QueueItem struct {
	ID            uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	Event         string     `gorm:"not null" json:"event"`
	URL           string     `gorm:"not null" json:"url"`
	Payload       string     `gorm:"type:jsonb;not null" json:"payload"`
	Status        string     `gorm:"not null;default:'pending';index:idx_webhook_queue_ready,priority:1" json:"status"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int        `gorm:"not null;default:5" json:"max_attempts"`
	Priority      Priority   `gorm:"not null;default:'normal'" json:"priority"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	NextAttemptAt time.Time  `gorm:"not null;index:idx_webhook_queue_ready,priority:2" json:"next_attempt_at"`
	Error         *string    `json:"error"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

func (QueueItem) TableName() string {
	return "webhook_queue"
}
