package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/repo"
)

// ReferralService manages users, their referral codes and the referral
// event log.
type ReferralService struct {
	DB *gorm.DB
}

// RegisterUser returns the user bound to telegramID, creating it when the
// account is new. Username and phone are only used on creation.
func (s *ReferralService) RegisterUser(ctx context.Context, telegramID int64, username, phone string) (*domain.User, bool, error) {
	u, err := repo.GetUserByTelegramID(ctx, s.DB, telegramID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	u = &domain.User{
		TelegramID: telegramID,
		Username:   strPtr(strings.TrimSpace(username)),
		Phone:      strPtr(strings.TrimSpace(phone)),
		Role:       domain.RoleGuest,
	}
	if err := repo.CreateUser(ctx, s.DB, u); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, false, err
		}
		existing, gerr := repo.GetUserByTelegramID(ctx, s.DB, telegramID)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	return u, true, nil
}

// GetOrCreateCode returns the user's referral code, generating an active
// "ref_<user>_<8 hex>" code on first use.
func (s *ReferralService) GetOrCreateCode(ctx context.Context, userID string) (*domain.ReferralCode, error) {
	tr := otel.Tracer("services/ReferralService")
	ctx, span := tr.Start(ctx, "GetOrCreateCode",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	rc, err := repo.GetReferralCodeByUser(ctx, s.DB, userID)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if _, err := repo.GetUser(ctx, s.DB, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	code, err := newReferralCode(userID)
	if err != nil {
		return nil, err
	}
	rc = &domain.ReferralCode{UserID: userID, Code: code, IsActive: true}
	if err := repo.CreateReferralCode(ctx, s.DB, rc); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, err
		}
		return repo.GetReferralCodeByUser(ctx, s.DB, userID)
	}

	zerolog.Ctx(ctx).Info().Str("user_id", userID).Str("code", rc.Code).Msg("referral: code issued")
	return rc, nil
}

// RecordStart logs that userID arrived through code. The code must be active
// and must not belong to userID. A user without an inviter gets the code's
// owner recorded as inviter.
func (s *ReferralService) RecordStart(ctx context.Context, code, userID string) (*domain.ReferralEvent, error) {
	tr := otel.Tracer("services/ReferralService")
	ctx, span := tr.Start(ctx, "RecordStart",
		trace.WithAttributes(
			attribute.String("referral.code", code),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	rc, err := repo.GetActiveReferralCodeByCode(ctx, s.DB, strings.TrimSpace(code))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	if rc.UserID == userID {
		return nil, ErrSelfReferral
	}

	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	var ev *domain.ReferralEvent
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if u.InviterUserID == nil {
			if err := tx.Model(&domain.User{}).Where("id = ? AND inviter_user_id IS NULL", u.ID).
				Update("inviter_user_id", rc.UserID).Error; err != nil {
				return err
			}
		}
		var lerr error
		ev, lerr = logEvent(ctx, tx, rc.ID, domain.RefEventStart, &u.ID, nil, nil)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// LogEvent appends an entry to the referral log.
func (s *ReferralService) LogEvent(ctx context.Context, codeID, evType string, userID, bookingID *string, meta map[string]any) (*domain.ReferralEvent, error) {
	return logEvent(ctx, s.DB, codeID, evType, userID, bookingID, meta)
}

// BookingEventLogged reports whether an evType entry exists for bookingID.
func (s *ReferralService) BookingEventLogged(ctx context.Context, bookingID, evType string) (bool, error) {
	return repo.HasBookingEvent(ctx, s.DB, bookingID, evType)
}

// Events returns the most recent log entries for one code.
func (s *ReferralService) Events(ctx context.Context, codeID string, limit int) ([]domain.ReferralEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return repo.ListReferralEvents(ctx, s.DB, codeID, limit)
}

func logEvent(ctx context.Context, db *gorm.DB, codeID, evType string, userID, bookingID *string, meta map[string]any) (*domain.ReferralEvent, error) {
	switch evType {
	case domain.RefEventStart, domain.RefEventClick, domain.RefEventBookingCreated, domain.RefEventBookingPaid:
	default:
		return nil, ErrInvalidEventType
	}
	ev := &domain.ReferralEvent{
		ReferralCodeID: codeID,
		Type:           evType,
		UserID:         userID,
		BookingID:      bookingID,
	}
	if len(meta) > 0 {
		ev.Meta = datatypes.JSONMap(meta)
	}
	if err := repo.CreateReferralEvent(ctx, db, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func newReferralCode(userID string) (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("referral code: %w", err)
	}
	return "ref_" + userID + "_" + hex.EncodeToString(b[:]), nil
}
