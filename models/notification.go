package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Dispatch queues. A backlog in one never blocks the others.
const (
	QueueBookingEvents = "booking-events"
	QueueNotifications = "notifications"
	QueuePaymentEvents = "payment-events"
)

type NotificationChannel string

const (
	ChannelPush  NotificationChannel = "push"
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	ChannelInApp NotificationChannel = "in_app"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusSent    JobStatus = "sent"
	JobStatusFailed  JobStatus = "failed"
	JobStatusRead    JobStatus = "read"
)

// Job priorities; higher dispatches first. Payment failures and urgent
// system alerts ride PriorityHigh. Zero is reserved for "unset": a job
// enqueued without a priority takes its queue's default.
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 9
)

// NotificationJob is one durable delivery attempt record. Created by any
// domain event emitter, mutated only by the dispatcher worker.
type NotificationJob struct {
	ID      string              `json:"id" gorm:"type:varchar(36);primaryKey"`
	Queue   string              `json:"queue" gorm:"type:varchar(50);not null;index:idx_queue_due"`
	Channel NotificationChannel `json:"channel" gorm:"type:varchar(20);not null"`
	UserID  uint                `json:"user_id" gorm:"not null;index"`

	Title   string         `json:"title" gorm:"type:varchar(200);not null"`
	Body    string         `json:"body" gorm:"type:text;not null"`
	Payload datatypes.JSON `json:"payload" gorm:"type:jsonb"`

	Status   JobStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index:idx_queue_due"`
	Priority int       `json:"priority" gorm:"default:5"`

	Attempts      int       `json:"attempts" gorm:"default:0"`
	MaxAttempts   int       `json:"max_attempts" gorm:"default:3"`
	NextAttemptAt time.Time `json:"next_attempt_at" gorm:"index:idx_queue_due"`
	LastError     string    `json:"last_error" gorm:"type:text"`
	SentAt        *time.Time `json:"sent_at"`

	// Correlation ids back to the emitting event.
	BookingID *uint  `json:"booking_id" gorm:"index"`
	EventID   string `json:"event_id" gorm:"type:varchar(36);index"`
	Event     string `json:"event" gorm:"type:varchar(50)"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (NotificationJob) TableName() string {
	return "notification_jobs"
}

// Exhausted reports whether the job has no retries left.
func (j *NotificationJob) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// PushToken is a registered device token for the push channel.
type PushToken struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	UserID    uint           `json:"user_id" gorm:"not null;index"`
	Token     string         `json:"token" gorm:"not null;unique"`
	Platform  string         `json:"platform" gorm:"not null"`
	Active    bool           `json:"active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (PushToken) TableName() string {
	return "push_tokens"
}
