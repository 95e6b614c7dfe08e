package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"booking-service-server/apperrors"
	"booking-service-server/config"
	"booking-service-server/models"
	"booking-service-server/store"
	"booking-service-server/utils"
)

// Domain events emitted by booking transitions.
const (
	EventBookingCreated   = "booking.created"
	EventBookingAccepted  = "booking.accepted"
	EventBookingCompleted = "booking.completed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingNoShow    = "booking.no_show"
	EventPayoutTriggered  = "payment.payout_triggered"
)

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	UserID uint
	Role   models.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Enqueuer is the slice of the dispatcher the lifecycle needs. Jobs are
// enqueued only after the triggering transition has committed.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.NotificationJob) (string, error)
}

// LineItemInput names a requested service; price and duration are resolved
// from the provider's offering at creation time and frozen into the
// booking.
type LineItemInput struct {
	ServiceID uint `json:"service_id" binding:"required"`
}

type CreateBookingInput struct {
	ProviderID  uint               `json:"provider_id" binding:"required"`
	Items       []LineItemInput    `json:"items" binding:"required"`
	ScheduledAt time.Time          `json:"scheduled_at" binding:"required"`
	Type        models.BookingType `json:"type"`
	LocationLat *float64           `json:"location_lat"`
	LocationLng *float64        `json:"location_lng"`
	Address     string          `json:"address"`
	Notes       *string         `json:"notes"`
}

// UpdateBookingInput is a field-level patch; nil fields are left alone.
type UpdateBookingInput struct {
	Notes       *string  `json:"notes"`
	Address     *string  `json:"address"`
	LocationLat *float64 `json:"location_lat"`
	LocationLng *float64 `json:"location_lng"`
}

// BookingLifecycle owns the booking state machine. All mutations go
// through it; handlers never touch the store directly.
type BookingLifecycle struct {
	cfg      config.BookingConfig
	store    store.Store
	resolver *ConflictResolver
	matcher  *GeoMatcher
	events   Enqueuer
	payments PaymentProvider
}

func NewBookingLifecycle(
	cfg config.BookingConfig,
	st store.Store,
	resolver *ConflictResolver,
	matcher *GeoMatcher,
	events Enqueuer,
	payments PaymentProvider,
) *BookingLifecycle {
	return &BookingLifecycle{
		cfg:      cfg,
		store:    st,
		resolver: resolver,
		matcher:  matcher,
		events:   events,
		payments: payments,
	}
}

// Create validates feasibility, snapshots the financials and persists the
// booking as REQUESTED. The conflict check runs inside the same critical
// section as the insert; a race loser surfaces as the same Conflict error
// as a pre-check rejection.
func (l *BookingLifecycle) Create(ctx context.Context, actor Actor, in CreateBookingInput) (*models.Booking, error) {
	if actor.Role != models.RoleCustomer {
		return nil, apperrors.Forbidden("only customers can create bookings")
	}
	if len(in.Items) == 0 {
		return nil, apperrors.Validation("at least one service line item is required")
	}
	if in.ScheduledAt.Before(time.Now()) {
		return nil, apperrors.Validation("scheduled_at must be in the future")
	}
	if (in.LocationLat == nil) != (in.LocationLng == nil) {
		return nil, apperrors.Validation("location requires both latitude and longitude")
	}
	if in.LocationLat != nil && !utils.IsLocationValid(*in.LocationLat, *in.LocationLng) {
		return nil, apperrors.Validation("invalid location coordinates")
	}

	// Untyped requests with a location are home visits; everything else
	// happens at the shop.
	bookingType := in.Type
	if bookingType == "" {
		if in.LocationLat != nil {
			bookingType = models.BookingTypeHomeVisit
		} else {
			bookingType = models.BookingTypeInShop
		}
	}
	if !bookingType.IsValid() {
		return nil, apperrors.Validation("unknown booking type %q", bookingType)
	}
	if bookingType == models.BookingTypeHomeVisit && in.LocationLat == nil {
		return nil, apperrors.Validation("home visit bookings require a location")
	}

	provider, err := l.store.GetProvider(ctx, in.ProviderID)
	if err != nil {
		return nil, err
	}
	if !provider.IsActive {
		return nil, apperrors.NotFound("provider %d not found", in.ProviderID)
	}
	if in.LocationLat != nil && !l.matcher.InRange(provider, *in.LocationLat, *in.LocationLng) {
		return nil, apperrors.Conflict("provider does not serve this location")
	}

	items, gross, err := l.resolveLineItems(ctx, provider.ID, in.Items)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(0)
	for _, item := range items {
		duration += time.Duration(item.DurationMinutes) * time.Minute
	}
	week, err := provider.Week()
	if err != nil {
		return nil, fmt.Errorf("provider %d availability: %w", provider.ID, err)
	}
	if !WithinWorkingHours(week, in.ScheduledAt, duration) {
		return nil, apperrors.Conflict("requested time is outside the provider's working hours")
	}

	commission := round2(gross * provider.CommissionRate)
	booking := &models.Booking{
		CustomerID:  actor.UserID,
		ProviderID:  provider.ID,
		ScheduledAt: in.ScheduledAt,
		SlotBucket:  models.BucketFor(in.ScheduledAt, l.resolver.Buffer()),
		Type:        bookingType,
		Status:      models.BookingStatusRequested,
		Items:       items,
		Payment: models.PaymentSummary{
			Gross:      gross,
			Commission: commission,
			Payout:     round2(gross - commission),
			Status:     models.PaymentStatusPending,
		},
		LocationLat: in.LocationLat,
		LocationLng: in.LocationLng,
		Address:     in.Address,
		Notes:       in.Notes,
	}

	err = l.store.CreateBooking(ctx, booking, func(tx store.BookingStore) error {
		available, err := l.resolver.IsAvailable(ctx, tx, provider.ID, in.ScheduledAt)
		if err != nil {
			return err
		}
		if !available {
			return apperrors.Conflict("provider is already booked in this time window")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.emitBookingEvent(ctx, EventBookingCreated, booking, provider)
	return booking, nil
}

func (l *BookingLifecycle) resolveLineItems(ctx context.Context, providerID uint, inputs []LineItemInput) ([]models.BookingLineItem, float64, error) {
	items := make([]models.BookingLineItem, 0, len(inputs))
	var gross float64
	for _, in := range inputs {
		offering, err := l.store.GetOffering(ctx, providerID, in.ServiceID)
		if err != nil {
			return nil, 0, err
		}
		if offering.Price <= 0 {
			return nil, 0, apperrors.Validation("service %d has a non-positive price", in.ServiceID)
		}
		duration := offering.Service.DurationMinutes
		if duration <= 0 {
			return nil, 0, apperrors.Validation("service %d has a non-positive duration", in.ServiceID)
		}
		items = append(items, models.BookingLineItem{
			ServiceID:       in.ServiceID,
			Price:           offering.Price,
			DurationMinutes: duration,
		})
		gross += offering.Price
	}
	return items, round2(gross), nil
}

// Accept moves REQUESTED -> ACCEPTED and triggers the customer charge.
// Owning provider only.
func (l *BookingLifecycle) Accept(ctx context.Context, actor Actor, bookingID uint) (*models.Booking, error) {
	booking, err := l.transition(ctx, actor, bookingID, models.BookingStatusAccepted, "",
		func(b *models.Booking, provider *models.ProviderProfile) error {
			if err := requireProviderOwner(actor, provider); err != nil {
				return err
			}
			now := time.Now()
			b.AcceptedAt = &now
			return nil
		},
		EventBookingAccepted)
	if err != nil {
		return nil, err
	}

	if err := l.payments.Charge(ctx, booking.ID, booking.Payment.Gross); err != nil {
		// Charge failures ride the payment queue's retry cycle; the
		// accepted transition stands.
		log.Printf("⚠️ Charge trigger failed for booking %d: %v", booking.ID, err)
	}
	return booking, nil
}

// Start moves ACCEPTED -> IN_PROGRESS. Owning provider only; no event is
// emitted for this transition.
func (l *BookingLifecycle) Start(ctx context.Context, actor Actor, bookingID uint) (*models.Booking, error) {
	return l.transition(ctx, actor, bookingID, models.BookingStatusInProgress, "",
		func(b *models.Booking, provider *models.ProviderProfile) error {
			if err := requireProviderOwner(actor, provider); err != nil {
				return err
			}
			now := time.Now()
			b.StartedAt = &now
			return nil
		},
		"")
}

// Complete moves IN_PROGRESS -> COMPLETED, marks the payment snapshot
// completed and triggers the payout.
func (l *BookingLifecycle) Complete(ctx context.Context, actor Actor, bookingID uint) (*models.Booking, error) {
	var owner *models.ProviderProfile
	booking, err := l.transition(ctx, actor, bookingID, models.BookingStatusCompleted, "",
		func(b *models.Booking, provider *models.ProviderProfile) error {
			if err := requireProviderOwner(actor, provider); err != nil {
				return err
			}
			owner = provider
			now := time.Now()
			b.CompletedAt = &now
			b.Payment.Status = models.PaymentStatusCompleted
			return nil
		},
		EventBookingCompleted)
	if err != nil {
		return nil, err
	}

	if err := l.payments.Payout(ctx, booking.ID, booking.ProviderID, booking.Payment.Payout); err != nil {
		// Payout failures ride the payment queue's retry cycle; the
		// completed transition stands.
		log.Printf("⚠️ Payout trigger failed for booking %d: %v", booking.ID, err)
	}
	l.emitPaymentEvent(ctx, booking, owner)
	return booking, nil
}

// Cancel is reachable from any non-terminal state except a bare request's
// terminal neighbours; allowed to the customer, the owning provider, or an
// admin.
func (l *BookingLifecycle) Cancel(ctx context.Context, actor Actor, bookingID uint, reason string) (*models.Booking, error) {
	if reason == "" {
		return nil, apperrors.Validation("a cancellation reason is required")
	}
	charged := false
	booking, err := l.transition(ctx, actor, bookingID, models.BookingStatusCancelled, reason,
		func(b *models.Booking, provider *models.ProviderProfile) error {
			if !actor.IsAdmin() && actor.UserID != b.CustomerID && actor.UserID != provider.UserID {
				return apperrors.Forbidden("only the customer, the provider or an admin can cancel")
			}
			// The charge fires on accept, so anything cancelled past
			// REQUESTED gets its money back.
			if b.Status != models.BookingStatusRequested {
				charged = true
				b.Payment.Status = models.PaymentStatusRefunded
				b.Payment.Refund = b.Payment.Gross
			}
			now := time.Now()
			b.CancelledAt = &now
			b.CancelReason = &reason
			return nil
		},
		EventBookingCancelled)
	if err != nil {
		return nil, err
	}

	if charged {
		if err := l.payments.Refund(ctx, booking.ID, booking.Payment.Gross); err != nil {
			log.Printf("⚠️ Refund trigger failed for booking %d: %v", booking.ID, err)
		}
	}
	return booking, nil
}

// MarkNoShow moves ACCEPTED -> NO_SHOW when the customer never appeared.
// Owning provider or admin.
func (l *BookingLifecycle) MarkNoShow(ctx context.Context, actor Actor, bookingID uint) (*models.Booking, error) {
	return l.transition(ctx, actor, bookingID, models.BookingStatusNoShow, "",
		func(b *models.Booking, provider *models.ProviderProfile) error {
			if actor.IsAdmin() {
				return nil
			}
			return requireProviderOwner(actor, provider)
		},
		EventBookingNoShow)
}

// transition loads, authorizes, applies and persists one state change, then
// emits its event. The mutate callback runs after the from-state check and
// before the save.
func (l *BookingLifecycle) transition(
	ctx context.Context,
	actor Actor,
	bookingID uint,
	to models.BookingStatus,
	reason string,
	mutate func(b *models.Booking, provider *models.ProviderProfile) error,
	event string,
) (*models.Booking, error) {
	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	provider, err := l.store.GetProvider(ctx, booking.ProviderID)
	if err != nil {
		return nil, err
	}

	if err := mutate(booking, provider); err != nil {
		return nil, err
	}
	if !models.CanTransition(booking.Status, to) {
		return nil, apperrors.InvalidTransition("cannot move booking from %s to %s", booking.Status, to)
	}
	booking.Status = to

	if err := l.store.UpdateBooking(ctx, booking); err != nil {
		return nil, err
	}

	if event != "" {
		l.emitBookingEvent(ctx, event, booking, provider)
	}
	return booking, nil
}

// Update patches notes/location on a non-terminal booking. Owner or admin.
func (l *BookingLifecycle) Update(ctx context.Context, actor Actor, bookingID uint, in UpdateBookingInput) (*models.Booking, error) {
	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	provider, err := l.store.GetProvider(ctx, booking.ProviderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != booking.CustomerID && actor.UserID != provider.UserID {
		return nil, apperrors.Forbidden("not your booking")
	}
	if booking.Status.IsTerminal() {
		return nil, apperrors.InvalidTransition("cannot update a booking in terminal state %s", booking.Status)
	}

	if (in.LocationLat == nil) != (in.LocationLng == nil) {
		return nil, apperrors.Validation("location requires both latitude and longitude")
	}
	if in.LocationLat != nil {
		if !utils.IsLocationValid(*in.LocationLat, *in.LocationLng) {
			return nil, apperrors.Validation("invalid location coordinates")
		}
		booking.LocationLat = in.LocationLat
		booking.LocationLng = in.LocationLng
	}
	if in.Notes != nil {
		booking.Notes = in.Notes
	}
	if in.Address != nil {
		booking.Address = *in.Address
	}

	if err := l.store.UpdateBooking(ctx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

// Get returns one booking, access-checked.
func (l *BookingLifecycle) Get(ctx context.Context, actor Actor, bookingID uint) (*models.Booking, error) {
	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || actor.UserID == booking.CustomerID {
		return booking, nil
	}
	provider, err := l.store.GetProvider(ctx, booking.ProviderID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != provider.UserID {
		return nil, apperrors.Forbidden("not your booking")
	}
	return booking, nil
}

// List scopes the filter to what the actor may see: customers their own
// bookings, providers the ones assigned to them, admins anything.
func (l *BookingLifecycle) List(ctx context.Context, actor Actor, f store.BookingFilter) ([]models.Booking, int64, error) {
	switch actor.Role {
	case models.RoleCustomer:
		f.CustomerID = actor.UserID
	case models.RoleProvider:
		provider, err := l.store.GetProviderByUser(ctx, actor.UserID)
		if err != nil {
			return nil, 0, err
		}
		f.ProviderID = provider.ID
	case models.RoleAdmin:
		// Admins keep the filter as requested.
	default:
		return nil, 0, apperrors.Forbidden("unknown role")
	}
	return l.store.ListBookings(ctx, f)
}

// emitBookingEvent enqueues one notification job for the customer and one
// for the provider. Failures here never fail the transition: the booking is
// already committed and delivery has its own retry cycle.
func (l *BookingLifecycle) emitBookingEvent(ctx context.Context, event string, booking *models.Booking, provider *models.ProviderProfile) {
	eventID := uuid.NewString()
	payload, _ := json.Marshal(map[string]interface{}{
		"booking_id":   booking.ID,
		"status":       booking.Status,
		"scheduled_at": booking.ScheduledAt,
	})

	recipients := []struct {
		userID   uint
		audience string
	}{
		{booking.CustomerID, "customer"},
		{provider.UserID, "provider"},
	}
	for _, r := range recipients {
		title, body := eventMessage(event, r.audience)
		job := &models.NotificationJob{
			Queue:     models.QueueBookingEvents,
			Channel:   models.ChannelPush,
			UserID:    r.userID,
			Title:     title,
			Body:      body,
			Payload:   payload,
			Priority:  models.PriorityNormal,
			BookingID: &booking.ID,
			EventID:   eventID,
			Event:     event,
		}
		if _, err := l.events.Enqueue(ctx, job); err != nil {
			log.Printf("❌ Failed to enqueue %s notification for user %d: %v", event, r.userID, err)
		}
	}
}

func (l *BookingLifecycle) emitPaymentEvent(ctx context.Context, booking *models.Booking, provider *models.ProviderProfile) {
	payload, _ := json.Marshal(map[string]interface{}{
		"booking_id": booking.ID,
		"payout":     booking.Payment.Payout,
	})
	job := &models.NotificationJob{
		Queue:     models.QueuePaymentEvents,
		Channel:   models.ChannelEmail,
		UserID:    provider.UserID,
		Title:     "Payout on the way",
		Body:      fmt.Sprintf("Your payout of %.2f for booking #%d has been triggered.", booking.Payment.Payout, booking.ID),
		Payload:   payload,
		Priority:  models.PriorityHigh,
		BookingID: &booking.ID,
		EventID:   uuid.NewString(),
		Event:     EventPayoutTriggered,
	}
	if _, err := l.events.Enqueue(ctx, job); err != nil {
		log.Printf("❌ Failed to enqueue payout notification for booking %d: %v", booking.ID, err)
	}
}

func eventMessage(event, audience string) (string, string) {
	type message struct{ title, body string }
	msgs := map[string]map[string]message{
		EventBookingCreated: {
			"customer": {"Booking requested", "Your booking request has been sent to the provider."},
			"provider": {"New booking request", "You have a new booking request waiting for your response."},
		},
		EventBookingAccepted: {
			"customer": {"Booking accepted", "Your provider has accepted the booking."},
			"provider": {"Booking accepted", "You accepted the booking. It is now on your schedule."},
		},
		EventBookingCompleted: {
			"customer": {"Service completed", "Your booking has been completed. Please rate your experience."},
			"provider": {"Service completed", "The booking is complete. Your payout is being processed."},
		},
		EventBookingCancelled: {
			"customer": {"Booking cancelled", "Your booking has been cancelled."},
			"provider": {"Booking cancelled", "A booking on your schedule has been cancelled."},
		},
		EventBookingNoShow: {
			"customer": {"Marked as no-show", "Your booking was closed because the provider reported a no-show."},
			"provider": {"No-show recorded", "The booking has been closed as a no-show."},
		},
	}
	if byAudience, ok := msgs[event]; ok {
		if m, ok := byAudience[audience]; ok {
			return m.title, m.body
		}
	}
	return "Booking update", "Your booking status has been updated."
}

func requireProviderOwner(actor Actor, provider *models.ProviderProfile) error {
	if actor.UserID != provider.UserID {
		return apperrors.Forbidden("only the assigned provider can perform this action")
	}
	return nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
