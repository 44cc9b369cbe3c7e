// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for users,
// referral codes and the append-only referral event log.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/domain"
)

// GetUser fetches a user by primary key.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByPhone returns the first user whose phone equals phone exactly.
func GetUserByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("phone = ?", phone).Order("created_at ASC").First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByTelegramID returns the user bound to a messenger account.
func GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID int64) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts u; ErrDuplicate when the telegram id is taken.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.RoleGuest
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	return create(db.WithContext(ctx), u)
}

// GetReferralCode fetches a code by primary key.
func GetReferralCode(ctx context.Context, db *gorm.DB, id string) (*domain.ReferralCode, error) {
	var rc domain.ReferralCode
	if err := db.WithContext(ctx).First(&rc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rc, nil
}

// GetActiveReferralCodeByCode looks up an active code by its exact string.
func GetActiveReferralCodeByCode(ctx context.Context, db *gorm.DB, code string) (*domain.ReferralCode, error) {
	return firstCode(db.WithContext(ctx).Where("code = ? AND is_active = ?", code, true))
}

// GetActiveReferralCodeByUser returns the user's code if it is active.
func GetActiveReferralCodeByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.ReferralCode, error) {
	return firstCode(db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true))
}

// GetReferralCodeByUser returns the user's code regardless of state.
func GetReferralCodeByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.ReferralCode, error) {
	return firstCode(db.WithContext(ctx).Where("user_id = ?", userID))
}

func firstCode(q *gorm.DB) (*domain.ReferralCode, error) {
	var rc domain.ReferralCode
	err := q.First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// CreateReferralCode inserts rc; ErrDuplicate when the user already owns a
// code or the code string is taken.
func CreateReferralCode(ctx context.Context, db *gorm.DB, rc *domain.ReferralCode) error {
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	rc.CreatedAt = time.Now().UTC()
	return create(db.WithContext(ctx), rc)
}

// CreateReferralEvent appends ev to the referral log.
func CreateReferralEvent(ctx context.Context, db *gorm.DB, ev *domain.ReferralEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(ev).Error
}

// HasReferralEventSince reports whether an event of evType exists for
// (codeID, userID) created at or after since.
func HasReferralEventSince(ctx context.Context, db *gorm.DB, codeID, userID, evType string, since time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ReferralEvent{}).
		Where("referral_code_id = ? AND user_id = ? AND type = ? AND created_at >= ?", codeID, userID, evType, since.UTC()).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// HasBookingEvent reports whether an event of evType was logged for bookingID.
func HasBookingEvent(ctx context.Context, db *gorm.DB, bookingID, evType string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ReferralEvent{}).
		Where("booking_id = ? AND type = ?", bookingID, evType).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// ListReferralEvents returns the log for one code, newest first.
func ListReferralEvents(ctx context.Context, db *gorm.DB, codeID string, limit int) ([]domain.ReferralEvent, error) {
	var out []domain.ReferralEvent
	err := db.WithContext(ctx).
		Where("referral_code_id = ?", codeID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
