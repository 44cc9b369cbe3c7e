// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Booking
// model.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound.
//   - An insert that collides on external_id surfaces as ErrDuplicate so the
//     ledger can re-read the winning row.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/domain"
)

// GetBookingByExternalID fetches the booking for a provider reservation id.
func GetBookingByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Booking, error) {
	var b domain.Booking
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBooking fetches a booking by primary key.
func GetBooking(ctx context.Context, db *gorm.DB, id string) (*domain.Booking, error) {
	var b domain.Booking
	if err := db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBooking inserts b with a fresh UUID and UTC timestamps.
func CreateBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	return create(db.WithContext(ctx), b)
}

// UpdateBookingStatus overwrites status and bumps updated_at.
func UpdateBookingStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	return updateBooking(ctx, db, id, map[string]any{"status": status})
}

// UpdateBookingAmount overwrites total_amount (nil clears it) and bumps updated_at.
func UpdateBookingAmount(ctx context.Context, db *gorm.DB, id string, amount *int64) error {
	return updateBooking(ctx, db, id, map[string]any{"total_amount": amount})
}

func updateBooking(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Booking{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBookingsPage returns bookings newest first, optionally filtered by status.
func ListBookingsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	q := db.WithContext(ctx).Model(&domain.Booking{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountBookings returns the number of bookings, optionally filtered by status.
func CountBookings(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.Booking{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&n).Error
	return n, err
}
