// Package services – Pipeline
//
// Pipeline is the single entry point for inbound booking webhooks. For each
// payload it:
//
//  1. hashes the exact bytes and parses them into a Document,
//  2. short-circuits payloads already recorded for the provider,
//  3. normalizes through the provider mapping and records the event,
//  4. upserts the booking and attributes it to a referral code,
//  5. creates the payout for paid, attributed bookings and logs booking_paid,
//  6. marks the event processed, then notifies the referrer.
//
// A failure after step 3 leaves the event unprocessed so Replay can finish it.

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/normalizer"
	"github.com/tbourn/go-rental-funnel/internal/notify"
)

// Business outcomes reported with ok=false but without an internal failure.
const (
	ReasonUnknownProvider  = "unknown provider"
	ReasonMissingBookingID = "missing booking id"
)

// Outcome labels for webhook_events_total.
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
	outcomeMalformed = "malformed"
	outcomeFailed    = "failed"
)

var (
	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound booking webhooks by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	payoutsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_payouts_created_total",
			Help: "Referral payouts created by the webhook pipeline.",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(webhookEvents, payoutsCreated)
}

// Result describes how one payload was handled. Reason is set for business
// rejections that still answer with a success-class status.
type Result struct {
	EventID       string `json:"event_id,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	BookingID     string `json:"booking_id,omitempty"`
	Created       bool   `json:"created,omitempty"`
	PayoutCreated bool   `json:"payout_created"`
	Reason        string `json:"reason,omitempty"`
}

// OK reports whether the payload was accepted.
func (r Result) OK() bool { return r.Reason == "" }

// DefaultNotifyTimeout bounds a referrer notification when
// Pipeline.NotifyTimeout is zero.
const DefaultNotifyTimeout = 5 * time.Second

// Pipeline wires the webhook stages together.
//
// A payout needs a paid event for an attributed booking whose ledger status
// is paid after the update. A paid event for a booking already canceled
// therefore creates no payout, since canceled is terminal.
type Pipeline struct {
	Events      *IdempotencyStore
	Normalizer  *normalizer.Normalizer
	Ledger      *Ledger
	Attribution *AttributionService
	Payouts     *PayoutService
	Referrals   *ReferralService
	Notifier    notify.Sender

	// NotifyTimeout bounds each notification send.
	NotifyTimeout time.Duration
}

// Process handles one raw payload for provider. Malformed bodies return
// normalizer.ErrMalformedPayload and are not recorded. Any other error means
// the event was recorded but not finished.
func (p *Pipeline) Process(ctx context.Context, provider string, raw []byte) (Result, error) {
	provider = normalizer.ProviderKey(provider)

	tr := otel.Tracer("services/Pipeline")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("webhook.provider", provider),
			attribute.Int("webhook.body_bytes", len(raw)),
		),
	)
	defer span.End()

	log := zerolog.Ctx(ctx)
	digest := HashPayload(raw)

	doc, err := normalizer.Parse(raw)
	if err != nil {
		webhookEvents.WithLabelValues(provider, outcomeMalformed).Inc()
		log.Warn().Str("provider", provider).Err(err).Msg("webhook: malformed payload")
		return Result{}, err
	}

	seen, err := p.Events.Lookup(ctx, provider, digest)
	if err != nil {
		return p.fail(ctx, span, provider, Result{}, err)
	}
	if seen != nil {
		return p.duplicate(ctx, provider, seen.ID), nil
	}

	ev, nerr := p.Normalizer.Normalize(ctx, provider, doc)
	if errors.Is(nerr, normalizer.ErrUnknownProvider) {
		rec, err := p.Events.Record(ctx, provider, topLevelID(doc), domain.EventTypeUnknown, digest, raw)
		if errors.Is(err, ErrDuplicateEvent) {
			return p.duplicate(ctx, provider, ""), nil
		}
		if err != nil {
			return p.fail(ctx, span, provider, Result{}, err)
		}
		return p.reject(ctx, span, provider, rec.ID, ReasonUnknownProvider)
	}
	if nerr != nil {
		return p.fail(ctx, span, provider, Result{}, nerr)
	}

	rec, err := p.Events.Record(ctx, provider, ev.EventID, ev.EventType, digest, raw)
	if errors.Is(err, ErrDuplicateEvent) {
		return p.duplicate(ctx, provider, ""), nil
	}
	if err != nil {
		return p.fail(ctx, span, provider, Result{}, err)
	}
	span.SetAttributes(attribute.String("webhook.event_id", rec.ID))

	return p.apply(ctx, span, rec, doc, ev)
}

// Replay finishes a recorded event that was left unprocessed, starting from
// its stored payload.
func (p *Pipeline) Replay(ctx context.Context, eventID string) (Result, error) {
	tr := otel.Tracer("services/Pipeline")
	ctx, span := tr.Start(ctx, "Replay",
		trace.WithAttributes(attribute.String("webhook.event_id", eventID)),
	)
	defer span.End()

	rec, err := p.Events.Get(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	if rec.Processed() {
		return Result{EventID: rec.ID}, ErrAlreadyProcessed
	}

	zerolog.Ctx(ctx).Info().Str("event_id", rec.ID).Str("provider", rec.Provider).Msg("webhook: replaying event")

	doc, err := normalizer.Parse(rec.RawPayload)
	if err != nil {
		return p.fail(ctx, span, rec.Provider, Result{EventID: rec.ID}, err)
	}
	ev, err := p.Normalizer.Normalize(ctx, rec.Provider, doc)
	if errors.Is(err, normalizer.ErrUnknownProvider) {
		return p.reject(ctx, span, rec.Provider, rec.ID, ReasonUnknownProvider)
	}
	if err != nil {
		return p.fail(ctx, span, rec.Provider, Result{EventID: rec.ID}, err)
	}
	return p.apply(ctx, span, rec, doc, ev)
}

// apply runs the booking, attribution and payout stages for a recorded event.
func (p *Pipeline) apply(ctx context.Context, span trace.Span, rec *domain.WebhookEvent, doc normalizer.Document, ev normalizer.Event) (Result, error) {
	log := zerolog.Ctx(ctx)
	res := Result{EventID: rec.ID}

	if ev.EventID == "" {
		return p.reject(ctx, span, rec.Provider, rec.ID, ReasonMissingBookingID)
	}

	tag := sourceTag(doc)
	b, created, err := p.Ledger.GetOrCreate(ctx, ev.EventID, BookingFields{
		Status:      ev.EventType,
		ApartmentID: ev.ApartmentID,
		CheckIn:     ev.CheckIn,
		CheckOut:    ev.CheckOut,
		TotalAmount: ev.TotalAmount,
		Currency:    ev.Currency,
		SourceTag:   tag,
		RawPayload:  rec.RawPayload,
	})
	if err != nil {
		return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("booking: %w", err))
	}
	res.BookingID, res.Created = b.ID, created

	if !created {
		if domain.IsBookingStatus(ev.EventType) {
			if _, err := p.Ledger.Advance(ctx, b, ev.EventType); err != nil && !errors.Is(err, ErrInvalidTransition) {
				return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("booking status: %w", err))
			}
		}
		if _, err := p.Ledger.RefreshAmount(ctx, b, ev.TotalAmount); err != nil {
			return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("booking amount: %w", err))
		}
	}

	code, err := p.Attribution.Attribute(ctx, b, tag, ev.Phone)
	if err != nil {
		return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("attribution: %w", err))
	}

	if code != nil && created {
		if _, err := p.Referrals.LogEvent(ctx, code.ID, domain.RefEventBookingCreated, b.UserID, &b.ID, map[string]any{
			"external_id": b.ExternalID,
			"provider":    rec.Provider,
		}); err != nil {
			return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("referral event: %w", err))
		}
	}

	var paid *domain.Payout
	if code != nil && ev.EventType == domain.BookingPaid && b.Status == domain.BookingPaid {
		payout, err := p.Payouts.Create(ctx, code, b)
		if err != nil {
			return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("payout: %w", err))
		}
		if payout != nil {
			res.PayoutCreated = true
			payoutsCreated.WithLabelValues(rec.Provider).Inc()
		} else if payout, err = p.Payouts.ForBooking(ctx, b.ID); err != nil {
			return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("payout: %w", err))
		}

		// booking_paid is written once per booking; a replay after a crash
		// between the payout and this event still writes it.
		logged, err := p.Referrals.BookingEventLogged(ctx, b.ID, domain.RefEventBookingPaid)
		if err != nil {
			return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("referral event: %w", err))
		}
		if !logged {
			if _, err := p.Referrals.LogEvent(ctx, code.ID, domain.RefEventBookingPaid, b.UserID, &b.ID, map[string]any{
				"payout_id": payout.ID,
				"amount":    payout.Amount,
				"currency":  b.Currency,
			}); err != nil {
				return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("referral event: %w", err))
			}
			paid = payout
		}
	}

	if err := p.Events.MarkProcessed(ctx, rec.ID); err != nil {
		return p.fail(ctx, span, rec.Provider, res, fmt.Errorf("mark processed: %w", err))
	}

	if paid != nil {
		p.notify(ctx, code, b, paid)
	}

	webhookEvents.WithLabelValues(rec.Provider, outcomeProcessed).Inc()
	log.Info().
		Str("event_id", rec.ID).
		Str("provider", rec.Provider).
		Str("booking_id", b.ID).
		Str("external_id", b.ExternalID).
		Str("status", b.Status).
		Bool("created", created).
		Bool("attributed", code != nil).
		Bool("payout_created", res.PayoutCreated).
		Msg("webhook: processed")
	return res, nil
}

// notify runs after the event is marked processed, on a context detached
// from the request and bounded by NotifyTimeout.
func (p *Pipeline) notify(ctx context.Context, code *domain.ReferralCode, b *domain.Booking, payout *domain.Payout) {
	if p.Notifier == nil {
		return
	}
	n := notify.Notification{
		Kind:           notify.KindPayoutCreated,
		ReferrerUserID: code.UserID,
		ReferralCode:   code.Code,
		BookingID:      b.ID,
		ExternalID:     b.ExternalID,
		PayoutID:       payout.ID,
		Amount:         payout.Amount,
		Currency:       b.Currency,
		At:             time.Now().UTC(),
	}

	timeout := p.NotifyTimeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := p.Notifier.Send(sctx, n); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("payout_id", payout.ID).Msg("webhook: notification failed")
	}
}

func (p *Pipeline) duplicate(ctx context.Context, provider, eventID string) Result {
	webhookEvents.WithLabelValues(provider, outcomeDuplicate).Inc()
	zerolog.Ctx(ctx).Info().Str("provider", provider).Str("event_id", eventID).Msg("webhook: duplicate payload")
	return Result{EventID: eventID, Duplicate: true}
}

// reject marks the event processed and reports a business rejection.
func (p *Pipeline) reject(ctx context.Context, span trace.Span, provider, eventID, reason string) (Result, error) {
	res := Result{EventID: eventID, Reason: reason}
	if err := p.Events.MarkProcessed(ctx, eventID); err != nil {
		return p.fail(ctx, span, provider, res, fmt.Errorf("mark processed: %w", err))
	}
	webhookEvents.WithLabelValues(provider, outcomeRejected).Inc()
	zerolog.Ctx(ctx).Warn().Str("provider", provider).Str("event_id", eventID).Str("reason", reason).Msg("webhook: rejected")
	return res, nil
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, provider string, res Result, err error) (Result, error) {
	webhookEvents.WithLabelValues(provider, outcomeFailed).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	zerolog.Ctx(ctx).Error().Err(err).Str("provider", provider).Str("event_id", res.EventID).Msg("webhook: processing failed")
	return res, err
}

// sourceTag reads the attribution tag from the top level of the raw payload.
func sourceTag(doc normalizer.Document) string {
	for _, key := range []string{"source_tag", "utm_source"} {
		if v, ok := doc.Field(key); ok {
			if s, ok := v.Text(); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func topLevelID(doc normalizer.Document) string {
	if v, ok := doc.Field("id"); ok {
		if s, ok := v.Text(); ok {
			return s
		}
	}
	return ""
}
