// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Payout
// model. The unique index on booking_id is the authoritative guard against
// paying a booking out twice; CreatePayout surfaces it as ErrDuplicate.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/domain"
)

// GetPayoutByBooking returns the payout for bookingID or ErrNotFound.
func GetPayoutByBooking(ctx context.Context, db *gorm.DB, bookingID string) (*domain.Payout, error) {
	var p domain.Payout
	err := db.WithContext(ctx).Where("booking_id = ?", bookingID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayout inserts p with a fresh UUID and UTC timestamps.
func CreatePayout(ctx context.Context, db *gorm.DB, p *domain.Payout) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	return create(db.WithContext(ctx).Omit("ReferralCode", "Booking"), p)
}

// ListPayoutsPage returns payouts newest first, optionally filtered by status.
func ListPayoutsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Payout, error) {
	var out []domain.Payout
	q := db.WithContext(ctx).Model(&domain.Payout{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountPayouts returns the number of payouts, optionally filtered by status.
func CountPayouts(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.Payout{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&n).Error
	return n, err
}
