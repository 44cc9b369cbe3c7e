// Reporting API handlers used by the dashboard. All of them sit behind
// AdminAuth.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/repo"
	"github.com/tbourn/go-rental-funnel/internal/services"
	"github.com/tbourn/go-rental-funnel/internal/utils"
)

// ListBookingsResponse wraps a page of bookings.
type ListBookingsResponse struct {
	Bookings   []domain.Booking `json:"bookings"`
	Pagination Pagination       `json:"pagination"`
}

// ListPayoutsResponse wraps a page of payouts.
type ListPayoutsResponse struct {
	Payouts    []domain.Payout `json:"payouts"`
	Pagination Pagination      `json:"pagination"`
}

// UnprocessedEventsResponse lists webhook events awaiting terminal handling.
type UnprocessedEventsResponse struct {
	Events []domain.WebhookEvent `json:"events"`
}

// StatsResponse is the dashboard summary for the last Days days.
type StatsResponse struct {
	Days    int          `json:"days" example:"30"`
	Summary repo.Summary `json:"summary"`
}

// ListBookings godoc
// @ID          listBookings
// @Summary     List bookings (paginated)
// @Description Returns bookings, newest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Reporting
// @Produce     json
// @Security    BasicAuth
//
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       status         query   string  false  "Filter by status"  Enums(created, confirmed, paid, canceled)
// @Param       page           query   int     false  "Page number"       minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"    minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListBookingsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid status filter"
// @Failure     401  {string}  string  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/bookings [get]
func (h *Handlers) ListBookings(c *gin.Context) {
	ctx := c.Request.Context()
	status := c.Query("status")
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.svc.Bookings.Stats(ctx); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"bookings:%s:%d:%d:%d:%d"`, status, page, pageSize, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.svc.Bookings.ListPage(ctx, status, page, pageSize)
	if errors.Is(err, services.ErrInvalidStatus) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown booking status")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListBookingsResponse{
		Bookings:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// ListPayouts godoc
// @ID          listPayouts
// @Summary     List payouts (paginated)
// @Tags        Reporting
// @Produce     json
// @Security    BasicAuth
//
// @Param       status     query  string  false  "Filter by status"  Enums(pending, approved, paid)
// @Param       page       query  int     false  "Page number"       minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"    minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListPayoutsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid status filter"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/payouts [get]
func (h *Handlers) ListPayouts(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.svc.Payouts.ListPage(c.Request.Context(), c.Query("status"), page, pageSize)
	if errors.Is(err, services.ErrInvalidStatus) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown payout status")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListPayoutsResponse{
		Payouts:    items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// Stats godoc
// @ID          funnelStats
// @Summary     Funnel summary
// @Description Bookings, paid revenue, payouts and referral starts created in the last N days, plus the current number of unprocessed webhook events.
// @Tags        Reporting
// @Produce     json
// @Security    BasicAuth
//
// @Param       days  query  int  false  "Window in days"  minimum(1) maximum(365) default(30)
//
// @Success     200  {object}  handlers.StatsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	days := utils.Clamp(utils.AtoiDefault(c.Query("days"), services.DefaultSummaryDays), 1, services.MaxSummaryDays)

	sum, err := h.svc.Reports.Summary(c.Request.Context(), days)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, StatsResponse{Days: days, Summary: sum})
}

// ListUnprocessedEvents godoc
// @ID          listUnprocessedWebhookEvents
// @Summary     List unprocessed webhook events
// @Description Events recorded but not finished, oldest first. Candidates for replay.
// @Tags        Reporting
// @Produce     json
// @Security    BasicAuth
//
// @Param       limit  query  int  false  "Maximum events"  minimum(1) maximum(500) default(100)
//
// @Success     200  {object}  handlers.UnprocessedEventsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/webhook-events/unprocessed [get]
func (h *Handlers) ListUnprocessedEvents(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 0)

	events, err := h.svc.Events.ListUnprocessed(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if events == nil {
		events = []domain.WebhookEvent{}
	}
	ok(c, http.StatusOK, UnprocessedEventsResponse{Events: events})
}

// ReplayEvent godoc
// @ID          replayWebhookEvent
// @Summary     Replay an unprocessed webhook event
// @Description Re-runs normalization onward from the stored payload of an event left unprocessed by a failure.
// @Tags        Reporting
// @Produce     json
// @Security    BasicAuth
//
// @Param       id  path  string  true  "Webhook event ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.Result
// @Failure     404  {object}  handlers.ErrorResponse  "Event not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already processed"
// @Failure     500  {object}  handlers.ErrorResponse  "Replay failed"
// @Router      /api/v1/webhook-events/{id}/replay [post]
func (h *Handlers) ReplayEvent(c *gin.Context) {
	res, err := h.svc.Webhooks.Replay(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrEventNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "webhook event not found")
	case errors.Is(err, services.ErrAlreadyProcessed):
		fail(c, http.StatusConflict, ErrCodeConflict, "webhook event already processed")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeReplayFailed, err.Error())
	default:
		ok(c, http.StatusOK, res)
	}
}
