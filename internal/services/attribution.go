package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/repo"
)

// PartnerTagMarker precedes the referral code inside a source tag such as
// "tg_partner_ref_42_ab12cd34".
const PartnerTagMarker = "partner_"

// DefaultAttributionWindow applies when AttributionService.Window is zero.
const DefaultAttributionWindow = 30 * 24 * time.Hour

// AttributionService links bookings to the referral code that produced them.
type AttributionService struct {
	DB     *gorm.DB
	Window time.Duration
	Now    func() time.Time
}

// CodeFromTag extracts the candidate referral code from a source tag: the
// text after the last PartnerTagMarker. ok is false when the marker is absent
// or nothing follows it.
func CodeFromTag(tag string) (code string, ok bool) {
	i := strings.LastIndex(tag, PartnerTagMarker)
	if i < 0 {
		return "", false
	}
	code = tag[i+len(PartnerTagMarker):]
	return code, code != ""
}

// Attribute resolves the referral code credited for booking. The source tag
// wins over the guest phone; a miss returns (nil, nil).
func (s *AttributionService) Attribute(ctx context.Context, booking *domain.Booking, sourceTag, phone string) (*domain.ReferralCode, error) {
	tr := otel.Tracer("services/AttributionService")
	ctx, span := tr.Start(ctx, "Attribute",
		trace.WithAttributes(
			attribute.String("booking.id", booking.ID),
			attribute.Bool("attribution.has_tag", sourceTag != ""),
			attribute.Bool("attribution.has_phone", phone != ""),
		),
	)
	defer span.End()

	log := zerolog.Ctx(ctx)

	if code, ok := CodeFromTag(sourceTag); ok {
		rc, err := repo.GetActiveReferralCodeByCode(ctx, s.DB, code)
		switch {
		case err == nil:
			log.Debug().Str("booking_id", booking.ID).Str("code", rc.Code).Msg("attribution: source tag")
			span.SetAttributes(attribute.String("attribution.rule", "tag"))
			return rc, nil
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
	}

	if phone != "" {
		u, err := repo.GetUserByPhone(ctx, s.DB, phone)
		switch {
		case err == nil:
			rc, err := repo.GetActiveReferralCodeByUser(ctx, s.DB, u.ID)
			if err == nil {
				log.Debug().Str("booking_id", booking.ID).Str("code", rc.Code).Msg("attribution: guest phone")
				span.SetAttributes(attribute.String("attribution.rule", "phone"))
				return rc, nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
	}

	span.SetAttributes(attribute.String("attribution.rule", "none"))
	return nil, nil
}

// CheckAttributionWindow reports whether userID may be credited to codeID:
// the code's owner is never credited for themselves, and a "start" event for
// the pair must exist within the window ending now.
func (s *AttributionService) CheckAttributionWindow(ctx context.Context, codeID, userID string) (bool, error) {
	rc, err := repo.GetReferralCode(ctx, s.DB, codeID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, ErrCodeNotFound
	}
	if err != nil {
		return false, err
	}
	if rc.UserID == userID {
		return false, nil
	}

	since := s.now().Add(-s.window())
	return repo.HasReferralEventSince(ctx, s.DB, codeID, userID, domain.RefEventStart, since)
}

func (s *AttributionService) window() time.Duration {
	if s.Window <= 0 {
		return DefaultAttributionWindow
	}
	return s.Window
}

func (s *AttributionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
