package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booking-service-server/models"
	"booking-service-server/store"
)

func seedBooking(t *testing.T, st *store.MemoryStore, providerID uint, at time.Time, status models.BookingStatus) *models.Booking {
	t.Helper()
	b := &models.Booking{
		CustomerID:  1,
		ProviderID:  providerID,
		ScheduledAt: at,
		Status:      status,
	}
	require.NoError(t, st.CreateBooking(context.Background(), b, nil))
	if status != models.BookingStatusRequested {
		b.Status = status
		require.NoError(t, st.UpdateBooking(context.Background(), b))
	}
	return b
}

// Provider has a booking at 10:00; a request for 10:20 with a 30 minute
// buffer conflicts, a request for 11:00 does not.
func TestIsAvailableBufferWindow(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewConflictResolver(30 * time.Minute)
	ctx := context.Background()

	tenAM := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)
	seedBooking(t, st, 1, tenAM, models.BookingStatusAccepted)

	ok, err := resolver.IsAvailable(ctx, st, 1, tenAM.Add(20*time.Minute))
	require.NoError(t, err)
	require.False(t, ok, "10:20 is inside the 10:00 booking's buffer")

	ok, err = resolver.IsAvailable(ctx, st, 1, tenAM.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok, "11:00 is outside the buffer")
}

func TestIsAvailableIgnoresTerminalBookings(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewConflictResolver(30 * time.Minute)
	ctx := context.Background()

	tenAM := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)
	b := seedBooking(t, st, 1, tenAM, models.BookingStatusAccepted)

	ok, err := resolver.IsAvailable(ctx, st, 1, tenAM)
	require.NoError(t, err)
	require.False(t, ok)

	// Cancelling releases the window.
	b.Status = models.BookingStatusCancelled
	require.NoError(t, st.UpdateBooking(ctx, b))

	ok, err = resolver.IsAvailable(ctx, st, 1, tenAM)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIsAvailableScopedToProvider(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewConflictResolver(30 * time.Minute)
	ctx := context.Background()

	tenAM := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)
	seedBooking(t, st, 1, tenAM, models.BookingStatusRequested)

	// A different provider's calendar is unaffected.
	ok, err := resolver.IsAvailable(ctx, st, 2, tenAM)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWithinWorkingHours(t *testing.T) {
	var week models.WeekAvailability
	for i := range week {
		week[i] = models.DayAvailability{
			OpenMinute:  9 * 60,
			CloseMinute: 17 * 60,
			Breaks:      []models.BreakInterval{{StartMinute: 12 * 60, EndMinute: 13 * 60}},
		}
	}

	day := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC) // a Monday

	require.True(t, WithinWorkingHours(week, day.Add(10*time.Hour), time.Hour))
	// Starts before opening
	require.False(t, WithinWorkingHours(week, day.Add(8*time.Hour), time.Hour))
	// Runs past closing
	require.False(t, WithinWorkingHours(week, day.Add(16*time.Hour+30*time.Minute), time.Hour))
	// Overlaps the lunch break
	require.False(t, WithinWorkingHours(week, day.Add(11*time.Hour+30*time.Minute), time.Hour))
	// Ends exactly when the break starts
	require.True(t, WithinWorkingHours(week, day.Add(11*time.Hour), time.Hour))

	week[int(day.Weekday())].Closed = true
	require.False(t, WithinWorkingHours(week, day.Add(10*time.Hour), time.Hour))
}

func TestWithinWorkingHoursRejectsMidnightCrossing(t *testing.T) {
	var week models.WeekAvailability
	for i := range week {
		week[i] = models.DayAvailability{OpenMinute: 0, CloseMinute: 24 * 60}
	}
	start := time.Date(2026, 9, 14, 23, 30, 0, 0, time.UTC)
	require.False(t, WithinWorkingHours(week, start, time.Hour))
}
