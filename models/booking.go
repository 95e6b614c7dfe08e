package models

import (
	"time"
)

// BookingType distinguishes where the service happens: at the provider's
// place of business or at the customer's location.
type BookingType string

const (
	BookingTypeInShop    BookingType = "in_shop"
	BookingTypeHomeVisit BookingType = "home_visit"
)

func (t BookingType) IsValid() bool {
	return t == BookingTypeInShop || t == BookingTypeHomeVisit
}

type BookingStatus string

const (
	BookingStatusRequested  BookingStatus = "requested"
	BookingStatusAccepted   BookingStatus = "accepted"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCancelled  BookingStatus = "cancelled"
	BookingStatusNoShow     BookingStatus = "no_show"
)

// allowedTransitions is the booking state machine. Anything absent here is
// an invalid transition, full stop.
var allowedTransitions = map[BookingStatus]map[BookingStatus]bool{
	BookingStatusRequested: {
		BookingStatusAccepted:  true,
		BookingStatusCancelled: true,
	},
	BookingStatusAccepted: {
		BookingStatusInProgress: true,
		BookingStatusCancelled:  true,
		BookingStatusNoShow:     true,
	},
	BookingStatusInProgress: {
		BookingStatusCompleted: true,
		BookingStatusCancelled: true,
	},
	BookingStatusCompleted: {},
	BookingStatusCancelled: {},
	BookingStatusNoShow:    {},
}

// CanTransition reports whether from -> to is an allowed booking transition.
func CanTransition(from, to BookingStatus) bool {
	next := allowedTransitions[from]
	return next != nil && next[to]
}

// IsTerminal reports whether no further transition is allowed from s.
func (s BookingStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// IsValid reports whether s is one of the defined booking states.
func (s BookingStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// ActiveBookingStatuses are the states that block a provider's calendar.
// A booking in any of these counts against the conflict buffer.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusRequested,
	BookingStatusAccepted,
	BookingStatusInProgress,
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// PaymentSummary is the financial snapshot fixed at creation time.
// Gross, commission and payout never change after the booking completes.
type PaymentSummary struct {
	Gross      float64       `json:"gross" gorm:"type:decimal(10,2);not null"`
	Commission float64       `json:"commission" gorm:"type:decimal(10,2);not null"`
	Payout     float64       `json:"payout" gorm:"type:decimal(10,2);not null"`
	Discount   float64       `json:"discount" gorm:"type:decimal(10,2);default:0"`
	Refund     float64       `json:"refund" gorm:"type:decimal(10,2);default:0"`
	Status     PaymentStatus `json:"status" gorm:"type:varchar(20);default:'pending'"`
}

// BookingLineItem is one agreed service within a booking. Price and
// duration are copied from the offering at creation time.
type BookingLineItem struct {
	ID              uint    `json:"id" gorm:"primaryKey"`
	BookingID       uint    `json:"booking_id" gorm:"not null;index"`
	ServiceID       uint    `json:"service_id" gorm:"not null"`
	Price           float64 `json:"price" gorm:"type:decimal(10,2);not null"`
	DurationMinutes int     `json:"duration_minutes" gorm:"not null"`

	Service Service `json:"service,omitempty" gorm:"foreignKey:ServiceID"`
}

func (BookingLineItem) TableName() string {
	return "booking_line_items"
}

type Booking struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	CustomerID uint `json:"customer_id" gorm:"not null;index"`
	ProviderID uint `json:"provider_id" gorm:"not null;index:idx_provider_schedule"`

	ScheduledAt time.Time `json:"scheduled_at" gorm:"not null;index:idx_provider_schedule"`
	// SlotBucket is ScheduledAt truncated to the conflict buffer, backing
	// the partial unique index that catches check-then-insert races.
	SlotBucket int64 `json:"-" gorm:"not null"`

	Type    BookingType     `json:"type" gorm:"type:varchar(20);not null;default:'in_shop';index"`
	Status  BookingStatus   `json:"status" gorm:"type:varchar(20);not null;default:'requested'"`
	Payment PaymentSummary  `json:"payment" gorm:"embedded;embeddedPrefix:payment_"`
	Items   []BookingLineItem `json:"items" gorm:"foreignKey:BookingID"`

	// Optional on-site coordinates.
	LocationLat *float64 `json:"location_lat" gorm:"type:decimal(10,8)"`
	LocationLng *float64 `json:"location_lng" gorm:"type:decimal(11,8)"`
	Address     string   `json:"address" gorm:"type:varchar(500)"`
	Notes       *string  `json:"notes" gorm:"type:varchar(1000)"`

	AcceptedAt   *time.Time `json:"accepted_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	CancelReason *string    `json:"cancel_reason" gorm:"type:varchar(500)"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Customer User            `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	Provider ProviderProfile `json:"provider,omitempty" gorm:"foreignKey:ProviderID"`
}

func (Booking) TableName() string {
	return "bookings"
}

// TotalDurationMinutes sums line-item durations.
func (b *Booking) TotalDurationMinutes() int {
	total := 0
	for _, item := range b.Items {
		total += item.DurationMinutes
	}
	return total
}

// BucketFor truncates t to buffer-sized slots; bookings in the same bucket
// for one provider violate the no-double-booking invariant.
func BucketFor(t time.Time, buffer time.Duration) int64 {
	if buffer <= 0 {
		return t.Unix()
	}
	return t.Unix() / int64(buffer.Seconds())
}
