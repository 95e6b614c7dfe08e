package services

import (
	"context"
	"time"

	"booking-service-server/models"
	"booking-service-server/store"
)

// ConflictResolver decides whether a provider can take a booking at a
// requested time. The check is a conservative buffer-window test: any
// non-terminal booking scheduled within [start-buffer, start+buffer] blocks
// the slot, regardless of either booking's own duration.
type ConflictResolver struct {
	buffer time.Duration
}

func NewConflictResolver(buffer time.Duration) *ConflictResolver {
	return &ConflictResolver{buffer: buffer}
}

func (r *ConflictResolver) Buffer() time.Duration {
	return r.buffer
}

// IsAvailable is read-only. For booking creation it must run on the
// transaction-scoped store that CreateBooking hands to its guard, so the
// check and the insert share one critical section.
func (r *ConflictResolver) IsAvailable(ctx context.Context, bookings store.BookingStore, providerID uint, requestedStart time.Time) (bool, error) {
	from := requestedStart.Add(-r.buffer)
	to := requestedStart.Add(r.buffer)
	count, err := bookings.CountActiveInWindow(ctx, providerID, from, to)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// WithinWorkingHours checks the requested window against the provider's
// weekly template: the whole [start, start+duration] span must fall inside
// the day's open window and outside its breaks. Spans crossing midnight are
// rejected.
func WithinWorkingHours(week models.WeekAvailability, start time.Time, duration time.Duration) bool {
	day := week[int(start.Weekday())]
	if day.Closed {
		return false
	}

	startMinute := start.Hour()*60 + start.Minute()
	endMinute := startMinute + int(duration.Minutes())
	if endMinute > 24*60 {
		return false
	}
	if startMinute < day.OpenMinute || endMinute > day.CloseMinute {
		return false
	}
	for _, b := range day.Breaks {
		if startMinute < b.EndMinute && endMinute > b.StartMinute {
			return false
		}
	}
	return true
}
