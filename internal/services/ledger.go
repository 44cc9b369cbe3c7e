// Package services – Ledger
//
// Ledger owns the booking rows keyed by the provider's external booking id.
// Creation is idempotent per external id; status changes on existing rows go
// through an explicit transition table.

package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/repo"
)

// BookingFields carries the values used when a booking is first created.
// Empty strings are stored as NULL.
type BookingFields struct {
	Status      string
	ApartmentID *int64
	UserID      string
	LeadID      string
	CheckIn     string
	CheckOut    string
	TotalAmount *int64
	Currency    string
	SourceTag   string
	RawPayload  []byte
}

// transitions lists the statuses reachable from each status.
var transitions = map[string][]string{
	domain.BookingCreated:   {domain.BookingConfirmed, domain.BookingPaid, domain.BookingCanceled},
	domain.BookingConfirmed: {domain.BookingPaid, domain.BookingCanceled},
	domain.BookingPaid:      {domain.BookingCanceled},
	domain.BookingCanceled:  {},
}

// CanTransition reports whether a booking may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to string) bool {
	if from == to {
		return domain.IsBookingStatus(to)
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ledger persists bookings.
type Ledger struct {
	DB *gorm.DB
}

// GetOrCreate returns the booking for externalID, creating it from f when it
// does not exist. The bool is true only when this call inserted the row.
// Existing rows are returned unchanged.
func (l *Ledger) GetOrCreate(ctx context.Context, externalID string, f BookingFields) (*domain.Booking, bool, error) {
	tr := otel.Tracer("services/Ledger")
	ctx, span := tr.Start(ctx, "GetOrCreate",
		trace.WithAttributes(attribute.String("booking.external_id", externalID)),
	)
	defer span.End()

	b, err := repo.GetBookingByExternalID(ctx, l.DB, externalID)
	if err == nil {
		return b, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	status := f.Status
	if !domain.IsBookingStatus(status) {
		status = domain.BookingCreated
	}
	currency := f.Currency
	if currency == "" {
		currency = "RUB"
	}
	b = &domain.Booking{
		ExternalID:  externalID,
		Status:      status,
		ApartmentID: f.ApartmentID,
		UserID:      strPtr(f.UserID),
		LeadID:      strPtr(f.LeadID),
		CheckIn:     strPtr(f.CheckIn),
		CheckOut:    strPtr(f.CheckOut),
		TotalAmount: f.TotalAmount,
		Currency:    currency,
		SourceTag:   strPtr(f.SourceTag),
	}
	if len(f.RawPayload) > 0 {
		b.RawPayload = datatypes.JSON(f.RawPayload)
	}

	if err := repo.CreateBooking(ctx, l.DB, b); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, false, err
		}
		// Lost the race to a concurrent insert.
		existing, gerr := repo.GetBookingByExternalID(ctx, l.DB, externalID)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	return b, true, nil
}

// UpdateStatus overwrites the booking status without consulting the
// transition table.
func (l *Ledger) UpdateStatus(ctx context.Context, bookingID, status string) error {
	if !domain.IsBookingStatus(status) {
		return ErrInvalidStatus
	}
	err := repo.UpdateBookingStatus(ctx, l.DB, bookingID, status)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrBookingNotFound
	}
	return err
}

// Advance moves b to status when the transition table allows it and updates
// b in place. Same-state calls return (false, nil).
func (l *Ledger) Advance(ctx context.Context, b *domain.Booking, status string) (bool, error) {
	if b.Status == status {
		return false, nil
	}
	if !CanTransition(b.Status, status) {
		zerolog.Ctx(ctx).Info().
			Str("booking_id", b.ID).
			Str("from", b.Status).
			Str("to", status).
			Msg("ledger: transition skipped")
		return false, ErrInvalidTransition
	}
	if err := l.UpdateStatus(ctx, b.ID, status); err != nil {
		return false, err
	}
	b.Status = status
	return true, nil
}

// RefreshAmount stores a newer total for b. A nil amount or an unchanged one
// is a no-op.
func (l *Ledger) RefreshAmount(ctx context.Context, b *domain.Booking, amount *int64) (bool, error) {
	if amount == nil || (b.TotalAmount != nil && *b.TotalAmount == *amount) {
		return false, nil
	}
	if err := repo.UpdateBookingAmount(ctx, l.DB, b.ID, amount); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrBookingNotFound
		}
		return false, err
	}
	v := *amount
	b.TotalAmount = &v
	return true, nil
}

// Get fetches a booking by primary key.
func (l *Ledger) Get(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := repo.GetBooking(ctx, l.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// ListPage returns one page of bookings, newest first, optionally filtered by
// status, together with the total count for that filter.
func (l *Ledger) ListPage(ctx context.Context, status string, page, pageSize int) ([]domain.Booking, int64, error) {
	tr := otel.Tracer("services/Ledger")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("booking.status", status),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if status != "" && !domain.IsBookingStatus(status) {
		return nil, 0, ErrInvalidStatus
	}
	page, pageSize = clampPage(page, pageSize)

	total, err := repo.CountBookings(ctx, l.DB, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Booking{}, 0, nil
	}
	items, err := repo.ListBookingsPage(ctx, l.DB, status, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Stats returns the booking count and the latest update time, used to build
// cache validators for listings.
func (l *Ledger) Stats(ctx context.Context) (int64, *time.Time, error) {
	return repo.BookingsStats(ctx, l.DB)
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
