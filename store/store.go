// Package store holds the persistence ports for the booking core and their
// Postgres and in-memory implementations.
package store

import (
	"context"
	"time"

	"booking-service-server/models"
)

// BookingFilter scopes and pages a booking listing.
type BookingFilter struct {
	Status     models.BookingStatus
	Type       models.BookingType
	CustomerID uint
	ProviderID uint
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
	SortBy     string // scheduled_at | created_at | status
	SortOrder  string // asc | desc
}

// QueueStats is the operator view of one dispatch queue.
type QueueStats struct {
	Queue   string `json:"queue"`
	Pending int64  `json:"pending"`
	Sent    int64  `json:"sent"`
	Failed  int64  `json:"failed"`
}

// BookingStore persists bookings. CreateBooking runs guard inside the same
// critical section as the insert: implementations must guarantee that no
// concurrent create for the same provider can interleave between the guard
// passing and the row landing.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking, guard func(tx BookingStore) error) error
	GetBooking(ctx context.Context, id uint) (*models.Booking, error)
	UpdateBooking(ctx context.Context, booking *models.Booking) error
	ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, int64, error)
	// CountActiveInWindow counts non-terminal bookings for the provider
	// scheduled inside [from, to].
	CountActiveInWindow(ctx context.Context, providerID uint, from, to time.Time) (int64, error)
}

type ProviderStore interface {
	GetProvider(ctx context.Context, id uint) (*models.ProviderProfile, error)
	GetProviderByUser(ctx context.Context, userID uint) (*models.ProviderProfile, error)
	SaveProvider(ctx context.Context, p *models.ProviderProfile) error
	// ListActiveProviders returns active (optionally online) providers,
	// optionally narrowed to those offering serviceID.
	ListActiveProviders(ctx context.Context, onlineOnly bool, serviceID uint) ([]models.ProviderProfile, error)
	GetOffering(ctx context.Context, providerID, serviceID uint) (*models.ProviderServiceOffering, error)
}

// JobStore persists notification jobs. ClaimDueJobs must hand each due job
// to exactly one worker; claimed jobs become invisible to other claimers for
// the lease duration.
type JobStore interface {
	EnqueueJob(ctx context.Context, job *models.NotificationJob) error
	ClaimDueJobs(ctx context.Context, queue string, limit int, now time.Time, lease time.Duration) ([]models.NotificationJob, error)
	UpdateJob(ctx context.Context, job *models.NotificationJob) error
	GetJob(ctx context.Context, id string) (*models.NotificationJob, error)
	ListJobsByUser(ctx context.Context, userID uint, limit int) ([]models.NotificationJob, error)
	CountUnread(ctx context.Context, userID uint) (int64, error)
	MarkJobRead(ctx context.Context, userID uint, id string) error
	MarkAllJobsRead(ctx context.Context, userID uint) error
	// ResetFailedJobs re-arms dead-lettered jobs for the operator
	// "retry failed" action.
	ResetFailedJobs(ctx context.Context, queue string, now time.Time) (int64, error)
	// PurgeTerminalJobs deletes SENT/READ/FAILED jobs older than before.
	PurgeTerminalJobs(ctx context.Context, queue string, before time.Time) (int64, error)
	QueueStats(ctx context.Context, queue string) (QueueStats, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

type TokenStore interface {
	SavePushToken(ctx context.Context, token *models.PushToken) error
	ActivePushTokens(ctx context.Context, userID uint) ([]models.PushToken, error)
}

// Store is the full persistence surface the application wires once.
type Store interface {
	BookingStore
	ProviderStore
	JobStore
	UserStore
	TokenStore
}
