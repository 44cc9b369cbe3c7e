package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/repo"
)

// HashPayload returns the hex SHA-256 of the exact bytes received.
func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// IdempotencyStore records every inbound payload once per provider. The
// unique (provider, payload_hash) index is the real guard; Lookup is only a
// fast path.
type IdempotencyStore struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *IdempotencyStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Lookup returns the recorded event for (provider, digest), or nil when the
// payload has not been seen.
func (s *IdempotencyStore) Lookup(ctx context.Context, provider, digest string) (*domain.WebhookEvent, error) {
	ev, err := repo.FindWebhookEvent(ctx, s.DB, provider, digest)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return ev, err
}

// Record persists a new event. A concurrent insert of the same payload
// surfaces as ErrDuplicateEvent.
func (s *IdempotencyStore) Record(ctx context.Context, provider, eventID, eventType, digest string, raw []byte) (*domain.WebhookEvent, error) {
	ctx, span := otel.Tracer("services/IdempotencyStore").Start(ctx, "Record",
		trace.WithAttributes(
			attribute.String("webhook.provider", provider),
			attribute.String("webhook.event_type", eventType),
		),
	)
	defer span.End()

	ev := &domain.WebhookEvent{
		Provider:    provider,
		EventType:   eventType,
		PayloadHash: digest,
		RawPayload:  datatypes.JSON(raw),
		ReceivedAt:  s.now(),
	}
	if eventID != "" {
		ev.EventID = &eventID
	}
	if err := repo.CreateWebhookEvent(ctx, s.DB, ev); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicateEvent
		}
		return nil, err
	}
	return ev, nil
}

// MarkProcessed stamps the event as terminally handled. Repeated calls keep
// the first timestamp.
func (s *IdempotencyStore) MarkProcessed(ctx context.Context, id string) error {
	err := repo.MarkWebhookEventProcessed(ctx, s.DB, id, s.now())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrEventNotFound
	}
	return err
}

// Get fetches a recorded event by id.
func (s *IdempotencyStore) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	ev, err := repo.GetWebhookEvent(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	return ev, err
}

// ListUnprocessed returns events left without terminal handling, oldest
// first. limit defaults to 100 and is capped at 500.
func (s *IdempotencyStore) ListUnprocessed(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	switch {
	case limit <= 0:
		limit = 100
	case limit > 500:
		limit = 500
	}
	return repo.ListUnprocessedWebhookEvents(ctx, s.DB, limit)
}
