package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service-server/apperrors"
	"booking-service-server/config"
	"booking-service-server/models"
	"booking-service-server/store"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []models.NotificationJob
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job *models.NotificationJob) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = fmt.Sprintf("job-%d", len(f.jobs)+1)
	f.jobs = append(f.jobs, *job)
	return job.ID, nil
}

func (f *fakeEnqueuer) byQueue(queue string) []models.NotificationJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NotificationJob
	for _, j := range f.jobs {
		if j.Queue == queue {
			out = append(out, j)
		}
	}
	return out
}

type payoutCall struct {
	bookingID  uint
	providerID uint
	amount     float64
}

type paymentCall struct {
	bookingID uint
	amount    float64
}

type fakePayments struct {
	mu      sync.Mutex
	charges []paymentCall
	refunds []paymentCall
	payouts []payoutCall
}

func (f *fakePayments) Charge(ctx context.Context, bookingID uint, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges = append(f.charges, paymentCall{bookingID, amount})
	return nil
}

func (f *fakePayments) Refund(ctx context.Context, bookingID uint, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, paymentCall{bookingID, amount})
	return nil
}

func (f *fakePayments) Payout(ctx context.Context, bookingID uint, providerID uint, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, payoutCall{bookingID, providerID, amount})
	return nil
}

type lifecycleFixture struct {
	store     *store.MemoryStore
	lifecycle *BookingLifecycle
	events    *fakeEnqueuer
	payments  *fakePayments

	customer Actor
	provider Actor
	admin    Actor

	providerID uint
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	st := store.NewMemoryStore()

	profile := &models.ProviderProfile{
		UserID:         20,
		IsActive:       true,
		CommissionRate: 0.2,
	}
	require.NoError(t, st.SaveProvider(context.Background(), profile))

	st.AddOffering(models.ProviderServiceOffering{
		ProviderID: profile.ID,
		ServiceID:  10,
		Price:      100,
		Service:    models.Service{ID: 10, DurationMinutes: 60},
	})
	st.AddOffering(models.ProviderServiceOffering{
		ProviderID: profile.ID,
		ServiceID:  11,
		Price:      49.99,
		Service:    models.Service{ID: 11, DurationMinutes: 30},
	})

	cfg := config.BookingConfig{BufferMinutes: 30, DefaultRadiusKm: 10, MaxRadiusKm: 50}
	events := &fakeEnqueuer{}
	payments := &fakePayments{}
	lifecycle := NewBookingLifecycle(
		cfg, st,
		NewConflictResolver(cfg.Buffer()),
		NewGeoMatcher(st, cfg.DefaultRadiusKm, cfg.MaxRadiusKm),
		events, payments,
	)

	return &lifecycleFixture{
		store:      st,
		lifecycle:  lifecycle,
		events:     events,
		payments:   payments,
		customer:   Actor{UserID: 1, Role: models.RoleCustomer},
		provider:   Actor{UserID: 20, Role: models.RoleProvider},
		admin:      Actor{UserID: 99, Role: models.RoleAdmin},
		providerID: profile.ID,
	}
}

// futureSlot is a daytime slot far enough out that it never trips the
// past-time check.
func futureSlot(offset time.Duration) time.Time {
	n := time.Now().Add(48 * time.Hour)
	return time.Date(n.Year(), n.Month(), n.Day(), 12, 0, 0, 0, time.UTC).Add(offset)
}

func (f *lifecycleFixture) create(t *testing.T, at time.Time) *models.Booking {
	t.Helper()
	booking, err := f.lifecycle.Create(context.Background(), f.customer, CreateBookingInput{
		ProviderID:  f.providerID,
		Items:       []LineItemInput{{ServiceID: 10}},
		ScheduledAt: at,
	})
	require.NoError(t, err)
	return booking
}

func TestCreateBookingValidation(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	valid := CreateBookingInput{
		ProviderID:  f.providerID,
		Items:       []LineItemInput{{ServiceID: 10}},
		ScheduledAt: futureSlot(0),
	}

	t.Run("only customers create", func(t *testing.T) {
		_, err := f.lifecycle.Create(ctx, f.provider, valid)
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	})

	t.Run("empty items", func(t *testing.T) {
		in := valid
		in.Items = nil
		_, err := f.lifecycle.Create(ctx, f.customer, in)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})

	t.Run("past time", func(t *testing.T) {
		in := valid
		in.ScheduledAt = time.Now().Add(-time.Hour)
		_, err := f.lifecycle.Create(ctx, f.customer, in)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})

	t.Run("half a coordinate", func(t *testing.T) {
		in := valid
		lat := 40.0
		in.LocationLat = &lat
		_, err := f.lifecycle.Create(ctx, f.customer, in)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})

	t.Run("unknown provider", func(t *testing.T) {
		in := valid
		in.ProviderID = 999
		_, err := f.lifecycle.Create(ctx, f.customer, in)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("unknown service", func(t *testing.T) {
		in := valid
		in.Items = []LineItemInput{{ServiceID: 999}}
		_, err := f.lifecycle.Create(ctx, f.customer, in)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestCreateBookingTypes(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	lat, lng := 52.5200, 13.4050

	t.Run("defaults to in-shop", func(t *testing.T) {
		booking := f.create(t, futureSlot(0))
		assert.Equal(t, models.BookingTypeInShop, booking.Type)
	})

	t.Run("coordinates imply a home visit", func(t *testing.T) {
		booking, err := f.lifecycle.Create(ctx, f.customer, CreateBookingInput{
			ProviderID:  f.providerID,
			Items:       []LineItemInput{{ServiceID: 10}},
			ScheduledAt: futureSlot(2 * time.Hour),
			LocationLat: &lat,
			LocationLng: &lng,
		})
		require.NoError(t, err)
		assert.Equal(t, models.BookingTypeHomeVisit, booking.Type)
	})

	t.Run("home visit requires a location", func(t *testing.T) {
		_, err := f.lifecycle.Create(ctx, f.customer, CreateBookingInput{
			ProviderID:  f.providerID,
			Items:       []LineItemInput{{ServiceID: 10}},
			ScheduledAt: futureSlot(4 * time.Hour),
			Type:        models.BookingTypeHomeVisit,
		})
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := f.lifecycle.Create(ctx, f.customer, CreateBookingInput{
			ProviderID:  f.providerID,
			Items:       []LineItemInput{{ServiceID: 10}},
			ScheduledAt: futureSlot(4 * time.Hour),
			Type:        "drive_through",
		})
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})
}

func TestCreateBookingSnapshotsFinancials(t *testing.T) {
	f := newLifecycleFixture(t)

	booking, err := f.lifecycle.Create(context.Background(), f.customer, CreateBookingInput{
		ProviderID:  f.providerID,
		Items:       []LineItemInput{{ServiceID: 10}, {ServiceID: 11}},
		ScheduledAt: futureSlot(0),
	})
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusRequested, booking.Status)
	assert.InDelta(t, 149.99, booking.Payment.Gross, 0.001)
	assert.InDelta(t, 30.00, booking.Payment.Commission, 0.001)
	assert.InDelta(t, 119.99, booking.Payment.Payout, 0.001)
	// The snapshot must always balance.
	assert.InDelta(t, booking.Payment.Gross, booking.Payment.Commission+booking.Payment.Payout, 0.001)
	assert.Equal(t, models.PaymentStatusPending, booking.Payment.Status)
	assert.Equal(t, 90, booking.TotalDurationMinutes())
}

func TestCreateBookingConflict(t *testing.T) {
	f := newLifecycleFixture(t)
	at := futureSlot(0)
	f.create(t, at)

	_, err := f.lifecycle.Create(context.Background(), f.customer, CreateBookingInput{
		ProviderID:  f.providerID,
		Items:       []LineItemInput{{ServiceID: 10}},
		ScheduledAt: at.Add(20 * time.Minute),
	})
	assert.True(t, apperrors.IsConflict(err))

	// An hour later is outside the buffer and succeeds.
	f.create(t, at.Add(time.Hour))
}

func TestCreateBookingRespectsWorkingHours(t *testing.T) {
	f := newLifecycleFixture(t)

	profile, err := f.store.GetProvider(context.Background(), f.providerID)
	require.NoError(t, err)
	var week models.WeekAvailability
	for i := range week {
		week[i] = models.DayAvailability{OpenMinute: 9 * 60, CloseMinute: 14 * 60}
	}
	require.NoError(t, profile.SetWeek(week))
	require.NoError(t, f.store.SaveProvider(context.Background(), profile))

	// Noon fits (60 min service, closes 14:00), 13:30 does not.
	f.create(t, futureSlot(0))
	_, err = f.lifecycle.Create(context.Background(), f.customer, CreateBookingInput{
		ProviderID:  f.providerID,
		Items:       []LineItemInput{{ServiceID: 10}},
		ScheduledAt: futureSlot(90 * time.Minute),
	})
	assert.True(t, apperrors.IsConflict(err))
}

func TestLifecycleHappyPath(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	booking := f.create(t, futureSlot(0))
	gross, commission, payout := booking.Payment.Gross, booking.Payment.Commission, booking.Payment.Payout

	booking, err := f.lifecycle.Accept(ctx, f.provider, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, booking.Status)
	assert.NotNil(t, booking.AcceptedAt)

	// Accepting triggers the customer charge for the full gross.
	require.Len(t, f.payments.charges, 1)
	assert.Equal(t, booking.ID, f.payments.charges[0].bookingID)
	assert.InDelta(t, gross, f.payments.charges[0].amount, 0.001)

	booking, err = f.lifecycle.Start(ctx, f.provider, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusInProgress, booking.Status)
	assert.NotNil(t, booking.StartedAt)

	booking, err = f.lifecycle.Complete(ctx, f.provider, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, booking.Status)
	assert.NotNil(t, booking.CompletedAt)
	assert.Equal(t, models.PaymentStatusCompleted, booking.Payment.Status)

	// The creation-time snapshot is frozen through the whole lifecycle.
	assert.Equal(t, gross, booking.Payment.Gross)
	assert.Equal(t, commission, booking.Payment.Commission)
	assert.Equal(t, payout, booking.Payment.Payout)

	require.Len(t, f.payments.payouts, 1)
	assert.Equal(t, booking.ID, f.payments.payouts[0].bookingID)
	assert.InDelta(t, payout, f.payments.payouts[0].amount, 0.001)
}

func TestTransitionAuthorization(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	booking := f.create(t, futureSlot(0))

	// The customer cannot accept their own request.
	_, err := f.lifecycle.Accept(ctx, f.customer, booking.ID)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	// Nor can a provider the booking is not assigned to.
	stranger := Actor{UserID: 77, Role: models.RoleProvider}
	_, err = f.lifecycle.Accept(ctx, stranger, booking.ID)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	// Authorization is checked before transition validity: a wrong actor on
	// a wrong-state booking still sees Forbidden.
	_, err = f.lifecycle.Complete(ctx, stranger, booking.ID)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
}

func TestInvalidTransitions(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	booking := f.create(t, futureSlot(0))

	_, err := f.lifecycle.Complete(ctx, f.provider, booking.ID)
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))

	_, err = f.lifecycle.Start(ctx, f.provider, booking.ID)
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))

	// No-show only applies to accepted bookings.
	_, err = f.lifecycle.MarkNoShow(ctx, f.provider, booking.ID)
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))

	_, err = f.lifecycle.Accept(ctx, f.provider, booking.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.Accept(ctx, f.provider, booking.ID)
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))
}

func TestCancel(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	booking := f.create(t, futureSlot(0))

	_, err := f.lifecycle.Cancel(ctx, f.customer, booking.ID, "")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	stranger := Actor{UserID: 55, Role: models.RoleCustomer}
	_, err = f.lifecycle.Cancel(ctx, stranger, booking.ID, "not mine")
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	booking, err = f.lifecycle.Cancel(ctx, f.customer, booking.ID, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, booking.Status)
	require.NotNil(t, booking.CancelReason)
	assert.Equal(t, "plans changed", *booking.CancelReason)
	assert.NotNil(t, booking.CancelledAt)

	// Nothing was charged yet, so nothing gets refunded.
	assert.Empty(t, f.payments.refunds)
	assert.Equal(t, models.PaymentStatusPending, booking.Payment.Status)

	// Terminal states never leave.
	_, err = f.lifecycle.Cancel(ctx, f.customer, booking.ID, "again")
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))
}

// A booking cancelled after the provider accepted has already been charged
// and must be refunded in full.
func TestCancelAfterAcceptRefunds(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	booking := f.create(t, futureSlot(0))

	_, err := f.lifecycle.Accept(ctx, f.provider, booking.ID)
	require.NoError(t, err)
	require.Len(t, f.payments.charges, 1)

	booking, err = f.lifecycle.Cancel(ctx, f.customer, booking.ID, "emergency")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, booking.Status)
	assert.Equal(t, models.PaymentStatusRefunded, booking.Payment.Status)
	assert.InDelta(t, booking.Payment.Gross, booking.Payment.Refund, 0.001)

	require.Len(t, f.payments.refunds, 1)
	assert.Equal(t, booking.ID, f.payments.refunds[0].bookingID)
	assert.InDelta(t, booking.Payment.Gross, f.payments.refunds[0].amount, 0.001)
}

func TestMarkNoShow(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	booking := f.create(t, futureSlot(0))
	_, err := f.lifecycle.Accept(ctx, f.provider, booking.ID)
	require.NoError(t, err)

	// The customer cannot self-report a no-show.
	_, err = f.lifecycle.MarkNoShow(ctx, f.customer, booking.ID)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	booking, err = f.lifecycle.MarkNoShow(ctx, f.provider, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusNoShow, booking.Status)

	// Admins may mark no-show too.
	second := f.create(t, futureSlot(3*time.Hour))
	_, err = f.lifecycle.Accept(ctx, f.provider, second.ID)
	require.NoError(t, err)
	second, err = f.lifecycle.MarkNoShow(ctx, f.admin, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusNoShow, second.Status)
}

func TestTransitionsEmitPairedEvents(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	booking := f.create(t, futureSlot(0))
	created := f.events.byQueue(models.QueueBookingEvents)
	require.Len(t, created, 2, "create notifies customer and provider")
	assert.Equal(t, created[0].EventID, created[1].EventID, "both jobs share the event correlation id")
	assert.ElementsMatch(t,
		[]uint{f.customer.UserID, f.provider.UserID},
		[]uint{created[0].UserID, created[1].UserID})
	for _, j := range created {
		assert.Equal(t, EventBookingCreated, j.Event)
		assert.Equal(t, models.ChannelPush, j.Channel)
		require.NotNil(t, j.BookingID)
		assert.Equal(t, booking.ID, *j.BookingID)
	}

	_, err := f.lifecycle.Accept(ctx, f.provider, booking.ID)
	require.NoError(t, err)
	assert.Len(t, f.events.byQueue(models.QueueBookingEvents), 4)

	// Start is a silent transition.
	_, err = f.lifecycle.Start(ctx, f.provider, booking.ID)
	require.NoError(t, err)
	assert.Len(t, f.events.byQueue(models.QueueBookingEvents), 4)

	_, err = f.lifecycle.Complete(ctx, f.provider, booking.ID)
	require.NoError(t, err)
	assert.Len(t, f.events.byQueue(models.QueueBookingEvents), 6)

	payment := f.events.byQueue(models.QueuePaymentEvents)
	require.Len(t, payment, 1)
	assert.Equal(t, EventPayoutTriggered, payment[0].Event)
	assert.Equal(t, models.ChannelEmail, payment[0].Channel)
	assert.Equal(t, models.PriorityHigh, payment[0].Priority)
	assert.Equal(t, f.provider.UserID, payment[0].UserID)
}

func TestConcurrentCreateExactlyOneWinner(t *testing.T) {
	f := newLifecycleFixture(t)
	at := futureSlot(0)

	const racers = 8
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.lifecycle.Create(context.Background(), f.customer, CreateBookingInput{
				ProviderID:  f.providerID,
				Items:       []LineItemInput{{ServiceID: 10}},
				ScheduledAt: at,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case apperrors.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflicts)
}

func TestUpdateBooking(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	booking := f.create(t, futureSlot(0))

	notes := "gate code 4711"
	updated, err := f.lifecycle.Update(ctx, f.customer, booking.ID, UpdateBookingInput{Notes: &notes})
	require.NoError(t, err)
	require.NotNil(t, updated.Notes)
	assert.Equal(t, notes, *updated.Notes)

	stranger := Actor{UserID: 55, Role: models.RoleCustomer}
	_, err = f.lifecycle.Update(ctx, stranger, booking.ID, UpdateBookingInput{Notes: &notes})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	_, err = f.lifecycle.Cancel(ctx, f.customer, booking.ID, "done")
	require.NoError(t, err)
	_, err = f.lifecycle.Update(ctx, f.customer, booking.ID, UpdateBookingInput{Notes: &notes})
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))
}

func TestListScopesToActor(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	f.create(t, futureSlot(0))
	other := Actor{UserID: 2, Role: models.RoleCustomer}
	_, err := f.lifecycle.Create(ctx, other, CreateBookingInput{
		ProviderID:  f.providerID,
		Items:       []LineItemInput{{ServiceID: 10}},
		ScheduledAt: futureSlot(2 * time.Hour),
	})
	require.NoError(t, err)

	mine, total, err := f.lifecycle.List(ctx, f.customer, store.BookingFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, mine, 1)
	assert.Equal(t, f.customer.UserID, mine[0].CustomerID)

	// The provider sees everything assigned to them.
	assigned, total, err := f.lifecycle.List(ctx, f.provider, store.BookingFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, assigned, 2)

	// Admins keep the requested filter.
	all, total, err := f.lifecycle.List(ctx, f.admin, store.BookingFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, all, 2)
}
