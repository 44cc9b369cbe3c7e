// Package domain defines the persistence models for users, referral codes,
// referral events, bookings and payouts. These types are mapped with GORM and
// form the core data layer of the rental funnel.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Booking lifecycle states.
const (
	BookingCreated   = "created"
	BookingConfirmed = "confirmed"
	BookingPaid      = "paid"
	BookingCanceled  = "canceled"
)

// Payout states.
const (
	PayoutPending  = "pending"
	PayoutApproved = "approved"
	PayoutPaid     = "paid"
)

// Referral event types.
const (
	RefEventStart          = "start"
	RefEventClick          = "click"
	RefEventBookingCreated = "booking_created"
	RefEventBookingPaid    = "booking_paid"
)

// User roles.
const (
	RoleGuest   = "guest"
	RolePartner = "partner"
	RoleAdmin   = "admin"
)

// IsBookingStatus reports whether s is one of the canonical booking states.
func IsBookingStatus(s string) bool {
	switch s {
	case BookingCreated, BookingConfirmed, BookingPaid, BookingCanceled:
		return true
	}
	return false
}

// User is a bot user. Referrers own exactly one ReferralCode; guests may be
// matched to bookings by phone.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - TelegramID: messenger account id; unique.
//   - Phone: free-form phone string, matched exactly by attribution.
//   - InviterUserID: user whose referral link brought this user in, if any.
type User struct {
	ID            string    `json:"id"              gorm:"type:char(36);primaryKey"`
	TelegramID    int64     `json:"telegram_id"     gorm:"not null;uniqueIndex:ux_users_telegram_id"`
	Username      *string   `json:"username,omitempty" gorm:"type:varchar(255)"`
	Phone         *string   `json:"phone,omitempty" gorm:"type:varchar(20);index:idx_users_phone"`
	Role          string    `json:"role"            gorm:"type:varchar(16);not null;default:'guest'"`
	InviterUserID *string   `json:"inviter_user_id,omitempty" gorm:"type:char(36)"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// ReferralCode is the code a referring user shares. One per user.
type ReferralCode struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);not null;uniqueIndex:ux_referral_codes_user"`
	Code      string    `json:"code"       gorm:"type:varchar(64);not null;uniqueIndex:ux_referral_codes_code"`
	IsActive  bool      `json:"is_active"  gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ReferralCode.
func (ReferralCode) TableName() string { return "referral_codes" }

// ReferralEvent is an append-only entry in the referral activity log. It is
// both the attribution-window audit trail and an analytics feed.
type ReferralEvent struct {
	ID             string            `json:"id"               gorm:"type:char(36);primaryKey"`
	ReferralCodeID string            `json:"referral_code_id" gorm:"type:char(36);not null;index:idx_ref_events_code_user,priority:1"`
	UserID         *string           `json:"user_id,omitempty" gorm:"type:char(36);index:idx_ref_events_code_user,priority:2"`
	Type           string            `json:"type"             gorm:"type:varchar(32);not null;index;check:type IN ('start','click','booking_created','booking_paid')"`
	BookingID      *string           `json:"booking_id,omitempty" gorm:"type:char(36)"`
	Meta           datatypes.JSONMap `json:"meta,omitempty"`
	CreatedAt      time.Time         `json:"created_at"       gorm:"index"`
}

// TableName returns the database table name for ReferralEvent.
func (ReferralEvent) TableName() string { return "referral_events" }

// Booking is the single authoritative row per provider reservation. It is
// created by the first webhook naming its external id and advanced in place
// by later ones.
//
// Fields:
//   - ExternalID: provider-assigned natural key; unique.
//   - Status: one of created, confirmed, paid, canceled.
//   - ApartmentID: provider-side apartment number, when the payload carries one.
//   - UserID / LeadID: funnel references filled by collaborating components.
//   - CheckIn / CheckOut: dates (or datetimes) verbatim from the provider.
//     Provider-supplied strings are unbounded text columns.
//   - TotalAmount: whole currency units; nil when the provider sent none.
//   - SourceTag: raw source_tag / utm_source used for attribution.
//   - RawPayload: snapshot of the payload that created the row.
type Booking struct {
	ID          string         `json:"id"            gorm:"type:char(36);primaryKey"`
	ExternalID  string         `json:"external_id"   gorm:"type:text;not null;uniqueIndex:ux_bookings_external_id"`
	Status      string         `json:"status"        gorm:"type:varchar(16);not null;index;check:status IN ('created','confirmed','paid','canceled')"`
	ApartmentID *int64         `json:"apartment_id,omitempty" gorm:"index"`
	UserID      *string        `json:"user_id,omitempty" gorm:"type:char(36);index"`
	LeadID      *string        `json:"lead_id,omitempty" gorm:"type:char(36)"`
	CheckIn     *string        `json:"check_in,omitempty"  gorm:"type:text"`
	CheckOut    *string        `json:"check_out,omitempty" gorm:"type:text"`
	TotalAmount *int64         `json:"total_amount,omitempty"`
	Currency    string         `json:"currency"      gorm:"type:text;not null;default:'RUB'"`
	SourceTag   *string        `json:"source_tag,omitempty" gorm:"type:text"`
	RawPayload  datatypes.JSON `json:"-"`
	CreatedAt   time.Time      `json:"created_at"    gorm:"index"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Booking.
func (Booking) TableName() string { return "bookings" }

// Payout is the reward owed to a referrer for one paid booking. BookingID is
// unique so a booking can never be paid out twice.
type Payout struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	ReferralCodeID string    `json:"referral_code_id" gorm:"type:char(36);not null;index"`
	BookingID      string    `json:"booking_id"       gorm:"type:char(36);not null;uniqueIndex:ux_payouts_booking"`
	Amount         int64     `json:"amount"           gorm:"not null"`
	Status         string    `json:"status"           gorm:"type:varchar(16);not null;index;check:status IN ('pending','approved','paid')"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	ReferralCode ReferralCode `json:"-" gorm:"foreignKey:ReferralCodeID;references:ID"`
	Booking      Booking      `json:"-" gorm:"foreignKey:BookingID;references:ID"`
}

// TableName returns the database table name for Payout.
func (Payout) TableName() string { return "payouts" }
