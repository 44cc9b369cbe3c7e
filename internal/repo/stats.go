// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) and the dashboard summary.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/domain"
)

// BookingsStats returns the total number of bookings and the greatest
// UpdatedAt among them. When there are no bookings maxUpdatedAt is nil.
func BookingsStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Booking{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Booking{}).
		Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// Summary aggregates funnel activity created at or after Since.
type Summary struct {
	Since            time.Time `json:"since"`
	Bookings         int64     `json:"bookings"`
	PaidBookings     int64     `json:"paid_bookings"`
	PaidRevenue      int64     `json:"paid_revenue"`
	Payouts          int64     `json:"payouts"`
	PayoutsPending   int64     `json:"payouts_pending"`
	PayoutAmount     int64     `json:"payout_amount"`
	ReferralStarts   int64     `json:"referral_starts"`
	UnprocessedHooks int64     `json:"unprocessed_webhooks"`
}

// FunnelSummary computes the dashboard summary for the window starting at since.
func FunnelSummary(ctx context.Context, db *gorm.DB, since time.Time) (Summary, error) {
	since = since.UTC()
	s := Summary{Since: since}
	d := db.WithContext(ctx)

	if err := d.Model(&domain.Booking{}).Where("created_at >= ?", since).Count(&s.Bookings).Error; err != nil {
		return s, err
	}
	paid := d.Model(&domain.Booking{}).Where("created_at >= ? AND status = ?", since, domain.BookingPaid)
	if err := paid.Count(&s.PaidBookings).Error; err != nil {
		return s, err
	}
	if err := d.Model(&domain.Booking{}).
		Where("created_at >= ? AND status = ?", since, domain.BookingPaid).
		Select("COALESCE(SUM(total_amount), 0)").Scan(&s.PaidRevenue).Error; err != nil {
		return s, err
	}
	if err := d.Model(&domain.Payout{}).Where("created_at >= ?", since).Count(&s.Payouts).Error; err != nil {
		return s, err
	}
	if err := d.Model(&domain.Payout{}).
		Where("created_at >= ? AND status = ?", since, domain.PayoutPending).
		Count(&s.PayoutsPending).Error; err != nil {
		return s, err
	}
	if err := d.Model(&domain.Payout{}).
		Where("created_at >= ?", since).
		Select("COALESCE(SUM(amount), 0)").Scan(&s.PayoutAmount).Error; err != nil {
		return s, err
	}
	if err := d.Model(&domain.ReferralEvent{}).
		Where("created_at >= ? AND type = ?", since, domain.RefEventStart).
		Count(&s.ReferralStarts).Error; err != nil {
		return s, err
	}
	if err := d.Model(&domain.WebhookEvent{}).Where("processed_at IS NULL").Count(&s.UnprocessedHooks).Error; err != nil {
		return s, err
	}
	return s, nil
}
