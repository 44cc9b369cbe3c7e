// Package handlers: service contracts, wiring and shared helpers.
//
// Endpoints:
//   - POST /webhooks/booking[/:provider]              (webhook intake)
//   - GET  /api/v1/bookings                           (paginated, weak ETag)
//   - GET  /api/v1/payouts                            (paginated, status filter)
//   - GET  /api/v1/stats                              (dashboard summary)
//   - GET  /api/v1/webhook-events/unprocessed         (recovery queue)
//   - POST /api/v1/webhook-events/{id}/replay         (crash recovery)
//   - POST /api/v1/referrals/codes                    (issue a referral code)
//   - POST /api/v1/referrals/start                    (referral link opened)
//   - GET  /api/v1/referrals/window                   (attribution window check)
//   - GET  /api/v1/referrals/codes/{id}/events        (referral log)
//   - GET  /health
//
// Handlers are transport-thin: they validate input, call services and
// translate results into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/repo"
	"github.com/tbourn/go-rental-funnel/internal/services"
	"github.com/tbourn/go-rental-funnel/internal/utils"
)

//
// Service contracts (context-aware)
//

// WebhookProcessor runs inbound payloads through the booking pipeline.
type WebhookProcessor interface {
	Process(ctx context.Context, provider string, raw []byte) (services.Result, error)
	Replay(ctx context.Context, eventID string) (services.Result, error)
}

// BookingService exposes the ledger to the reporting API.
type BookingService interface {
	ListPage(ctx context.Context, status string, page, pageSize int) ([]domain.Booking, int64, error)
	// Stats returns the booking count and latest update time, for ETags.
	Stats(ctx context.Context) (int64, *time.Time, error)
}

// PayoutService lists referral payouts.
type PayoutService interface {
	ListPage(ctx context.Context, status string, page, pageSize int) ([]domain.Payout, int64, error)
}

// EventService exposes recorded webhook events.
type EventService interface {
	ListUnprocessed(ctx context.Context, limit int) ([]domain.WebhookEvent, error)
}

// ReferralService covers the referral operations the bot calls.
type ReferralService interface {
	RegisterUser(ctx context.Context, telegramID int64, username, phone string) (*domain.User, bool, error)
	GetOrCreateCode(ctx context.Context, userID string) (*domain.ReferralCode, error)
	RecordStart(ctx context.Context, code, userID string) (*domain.ReferralEvent, error)
	Events(ctx context.Context, codeID string, limit int) ([]domain.ReferralEvent, error)
}

// AttributionService answers whether a user is still creditable to a code.
type AttributionService interface {
	CheckAttributionWindow(ctx context.Context, codeID, userID string) (bool, error)
}

// ReportService produces the dashboard summary.
type ReportService interface {
	Summary(ctx context.Context, days int) (repo.Summary, error)
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers. Every route is mounted, so
// each field must be set.
type Services struct {
	Webhooks    WebhookProcessor
	Bookings    BookingService
	Payouts     PayoutService
	Events      EventService
	Referrals   ReferralService
	Attribution AttributionService
	Reports     ReportService
}

// Options carries transport-level settings.
type Options struct {
	// DefaultProvider is used by POST /webhooks/booking.
	DefaultProvider string
	// MaxBodyBytes caps webhook bodies; larger ones get 413.
	MaxBodyBytes int64
	// Version is reported by /health.
	Version string
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	svc  Services
	opts Options
}

// New constructs Handlers bound to the given services.
func New(svc Services, opts Options) *Handlers {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = "homereserve"
	}
	return &Handlers{svc: svc, opts: opts}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params,
// returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}
