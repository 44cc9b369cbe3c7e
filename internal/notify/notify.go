// Package notify delivers referral notifications produced by the webhook
// pipeline. The pipeline depends only on Sender; concrete senders are built
// once at startup and injected.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// KindPayoutCreated is sent when a paid, attributed booking earns a payout.
const KindPayoutCreated = "payout_created"

// Notification tells a referrer that one of their bookings produced a payout.
type Notification struct {
	Kind           string    `json:"kind"`
	ReferrerUserID string    `json:"referrer_user_id"`
	ReferralCode   string    `json:"referral_code"`
	BookingID      string    `json:"booking_id"`
	ExternalID     string    `json:"external_id"`
	PayoutID       string    `json:"payout_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	At             time.Time `json:"at"`
}

// Sender delivers a notification. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the request-scoped logger. It is the
// fallback when no broker is configured.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(ctx context.Context, n Notification) error {
	zerolog.Ctx(ctx).Info().
		Str("kind", n.Kind).
		Str("referrer_user_id", n.ReferrerUserID).
		Str("referral_code", n.ReferralCode).
		Str("booking_id", n.BookingID).
		Str("payout_id", n.PayoutID).
		Int64("amount", n.Amount).
		Str("currency", n.Currency).
		Msg("referral notification")
	return nil
}
