package dispatcher

import (
	"context"
	"fmt"
	"log"

	"booking-service-server/apperrors"
	"booking-service-server/models"
	"booking-service-server/store"
)

// Transport is the external delivery collaborator for push/email/sms.
// Implementations must be idempotent per job id.
type Transport interface {
	SendPush(ctx context.Context, token, title, body string, data []byte) error
	SendEmail(ctx context.Context, userID uint, title, body string) error
	SendSMS(ctx context.Context, userID uint, body string) error
}

// InAppNotifier delivers to live connections; the hub satisfies this.
// Returns whether the user had at least one open connection.
type InAppNotifier interface {
	Notify(userID uint, event string, payload interface{}) bool
}

// ChannelRouter fans one job out to its channel's transport.
type ChannelRouter struct {
	transport Transport
	inApp     InAppNotifier
	tokens    store.TokenStore
}

func NewChannelRouter(transport Transport, inApp InAppNotifier, tokens store.TokenStore) *ChannelRouter {
	return &ChannelRouter{transport: transport, inApp: inApp, tokens: tokens}
}

// Deliver attempts one delivery. Errors it returns are classified: a
// permanent delivery error dead-letters the job immediately, anything else
// is retried per the queue's backoff policy.
func (r *ChannelRouter) Deliver(ctx context.Context, job *models.NotificationJob) error {
	switch job.Channel {
	case models.ChannelPush:
		tokens, err := r.tokens.ActivePushTokens(ctx, job.UserID)
		if err != nil {
			return apperrors.TransientDelivery("load push tokens", err)
		}
		if len(tokens) == 0 {
			// No registered device. The job row itself is the in-app
			// inbox, so the notification still reaches the user there;
			// mirror to any live connection and count it delivered.
			if r.inApp != nil {
				r.inApp.Notify(job.UserID, job.Event, job)
			}
			return nil
		}
		for _, t := range tokens {
			if err := r.transport.SendPush(ctx, t.Token, job.Title, job.Body, job.Payload); err != nil {
				return err
			}
		}
		// Mirror the push to any live in-app connection; best effort.
		if r.inApp != nil {
			r.inApp.Notify(job.UserID, job.Event, job)
		}
		return nil

	case models.ChannelEmail:
		return r.transport.SendEmail(ctx, job.UserID, job.Title, job.Body)

	case models.ChannelSMS:
		return r.transport.SendSMS(ctx, job.UserID, job.Body)

	case models.ChannelInApp:
		// The job row itself is the in-app inbox; an offline user reads it
		// later, so delivery succeeds either way.
		if r.inApp != nil {
			r.inApp.Notify(job.UserID, job.Event, job)
		}
		return nil

	default:
		return apperrors.PermanentDelivery(
			fmt.Sprintf("unknown channel %q", job.Channel), nil)
	}
}

// LogTransport stands in for the real push/email/sms gateways.
type LogTransport struct{}

func NewLogTransport() *LogTransport {
	return &LogTransport{}
}

func (t *LogTransport) SendPush(ctx context.Context, token, title, body string, data []byte) error {
	log.Printf("📲 push -> %s: %s", token, title)
	return nil
}

func (t *LogTransport) SendEmail(ctx context.Context, userID uint, title, body string) error {
	log.Printf("📧 email -> user %d: %s", userID, title)
	return nil
}

func (t *LogTransport) SendSMS(ctx context.Context, userID uint, body string) error {
	log.Printf("💬 sms -> user %d", userID)
	return nil
}
