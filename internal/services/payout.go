package services

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/config"
	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/repo"
)

// PayoutService computes and records referral payouts, at most one per
// booking.
type PayoutService struct {
	DB      *gorm.DB
	Mode    string
	Fixed   int64
	Percent float64
}

// Amount returns the payout owed for b under the configured mode. Percent
// payouts round toward zero and are 0 when the booking has no total.
func (s *PayoutService) Amount(b *domain.Booking) int64 {
	switch s.Mode {
	case config.PayoutModeFixed:
		return s.Fixed
	case config.PayoutModePercent:
		if b.TotalAmount == nil {
			return 0
		}
		return int64(math.Floor(float64(*b.TotalAmount) * s.Percent / 100))
	default:
		return 0
	}
}

// Create records a pending payout crediting code for b. When the booking
// already has a payout it returns (nil, nil).
func (s *PayoutService) Create(ctx context.Context, code *domain.ReferralCode, b *domain.Booking) (*domain.Payout, error) {
	tr := otel.Tracer("services/PayoutService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("booking.id", b.ID),
			attribute.String("referral_code.id", code.ID),
			attribute.String("payout.mode", s.Mode),
		),
	)
	defer span.End()

	log := zerolog.Ctx(ctx)

	if _, err := repo.GetPayoutByBooking(ctx, s.DB, b.ID); err == nil {
		log.Warn().Str("booking_id", b.ID).Msg("payout: already exists for booking")
		return nil, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	p := &domain.Payout{
		ReferralCodeID: code.ID,
		BookingID:      b.ID,
		Amount:         s.Amount(b),
		Status:         domain.PayoutPending,
	}
	if err := repo.CreatePayout(ctx, s.DB, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			log.Warn().Str("booking_id", b.ID).Msg("payout: concurrent insert for booking")
			return nil, nil
		}
		return nil, err
	}

	log.Info().
		Str("payout_id", p.ID).
		Str("booking_id", b.ID).
		Str("referral_code", code.Code).
		Int64("amount", p.Amount).
		Msg("payout: created")
	return p, nil
}

// ForBooking returns the payout recorded for bookingID, or repo.ErrNotFound.
func (s *PayoutService) ForBooking(ctx context.Context, bookingID string) (*domain.Payout, error) {
	return repo.GetPayoutByBooking(ctx, s.DB, bookingID)
}

// ListPage returns one page of payouts, newest first, optionally filtered by
// status.
func (s *PayoutService) ListPage(ctx context.Context, status string, page, pageSize int) ([]domain.Payout, int64, error) {
	tr := otel.Tracer("services/PayoutService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("payout.status", status),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	switch status {
	case "", domain.PayoutPending, domain.PayoutApproved, domain.PayoutPaid:
	default:
		return nil, 0, ErrInvalidStatus
	}
	page, pageSize = clampPage(page, pageSize)

	total, err := repo.CountPayouts(ctx, s.DB, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Payout{}, 0, nil
	}
	items, err := repo.ListPayoutsPage(ctx, s.DB, status, (page-1)*pageSize, pageSize)
	return items, total, err
}
