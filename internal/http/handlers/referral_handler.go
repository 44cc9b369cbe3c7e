// Referral handlers. The bot calls these when a user asks for a referral link
// and when a user arrives through one.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/services"
	"github.com/tbourn/go-rental-funnel/internal/utils"
)

// BotUser identifies a messenger user. The user is registered on first sight.
type BotUser struct {
	TelegramID int64  `json:"telegram_id" binding:"required" example:"123456789"`
	Username   string `json:"username" example:"anna_k"`
	Phone      string `json:"phone" example:"+79001234567"`
}

// IssueCodeRequest asks for the referral code of a user.
type IssueCodeRequest struct {
	BotUser
}

// IssueCodeResponse carries the user's referral code.
type IssueCodeResponse struct {
	UserID  string              `json:"user_id"`
	NewUser bool                `json:"new_user"`
	Code    domain.ReferralCode `json:"code"`
}

// StartRequest records that a user opened a referral link.
type StartRequest struct {
	BotUser
	Code string `json:"code" binding:"required,max=64" example:"ref_5f0c7a52_9b1e22aa"`
}

// AttributionWindowResponse reports whether a user may still be credited to a
// referral code.
type AttributionWindowResponse struct {
	CodeID     string `json:"code_id"`
	UserID     string `json:"user_id"`
	Attributed bool   `json:"attributed"`
}

// ReferralEventsResponse is the referral log of one code, newest first.
type ReferralEventsResponse struct {
	Events []domain.ReferralEvent `json:"events"`
}

// IssueReferralCode godoc
// @ID          issueReferralCode
// @Summary     Get or create a referral code
// @Description Registers the user when unknown and returns their single referral code.
// @Tags        Referrals
// @Accept      json
// @Produce     json
// @Security    BasicAuth
//
// @Param       body  body  handlers.IssueCodeRequest  true  "Bot user"
//
// @Success     200  {object}  handlers.IssueCodeResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/referrals/codes [post]
func (h *Handlers) IssueReferralCode(c *gin.Context) {
	var req IssueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TelegramID <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "telegram_id required")
		return
	}
	ctx := c.Request.Context()

	u, created, err := h.svc.Referrals.RegisterUser(ctx, req.TelegramID, strings.TrimSpace(req.Username), strings.TrimSpace(req.Phone))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	rc, err := h.svc.Referrals.GetOrCreateCode(ctx, u.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, IssueCodeResponse{UserID: u.ID, NewUser: created, Code: *rc})
}

// RecordReferralStart godoc
// @ID          recordReferralStart
// @Summary     Record a referral start
// @Description Registers the user when unknown, links them to the inviter and logs a start event that opens the attribution window.
// @Tags        Referrals
// @Accept      json
// @Produce     json
// @Security    BasicAuth
//
// @Param       body  body  handlers.StartRequest  true  "Referral start"
//
// @Success     201  {object}  domain.ReferralEvent
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown or inactive code"
// @Failure     409  {object}  handlers.ErrorResponse  "Self referral"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/referrals/start [post]
func (h *Handlers) RecordReferralStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TelegramID <= 0 || strings.TrimSpace(req.Code) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code and telegram_id required")
		return
	}
	ctx := c.Request.Context()

	u, _, err := h.svc.Referrals.RegisterUser(ctx, req.TelegramID, strings.TrimSpace(req.Username), strings.TrimSpace(req.Phone))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ev, err := h.svc.Referrals.RecordStart(ctx, strings.TrimSpace(req.Code), u.ID)
	switch {
	case errors.Is(err, services.ErrCodeNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "referral code not found")
	case errors.Is(err, services.ErrSelfReferral):
		fail(c, http.StatusConflict, ErrCodeSelfReferral, "self referral is not allowed")
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		ok(c, http.StatusCreated, ev)
	}
}

// CheckAttributionWindow godoc
// @ID          checkAttributionWindow
// @Summary     Check the attribution window
// @Description True when the user opened the code's link within the window and is not its owner.
// @Tags        Referrals
// @Produce     json
// @Security    BasicAuth
// @Param       code_id  query  string  true  "Referral code ID"  format(uuid)
// @Param       user_id  query  string  true  "User ID"           format(uuid)
// @Success     200  {object}  handlers.AttributionWindowResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing parameters"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown code"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/referrals/window [get]
func (h *Handlers) CheckAttributionWindow(c *gin.Context) {
	codeID := strings.TrimSpace(c.Query("code_id"))
	userID := strings.TrimSpace(c.Query("user_id"))
	if codeID == "" || userID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code_id and user_id required")
		return
	}

	in, err := h.svc.Attribution.CheckAttributionWindow(c.Request.Context(), codeID, userID)
	switch {
	case errors.Is(err, services.ErrCodeNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "referral code not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		ok(c, http.StatusOK, AttributionWindowResponse{CodeID: codeID, UserID: userID, Attributed: in})
	}
}

// ListReferralEvents godoc
// @ID          listReferralEvents
// @Summary     Referral log of one code
// @Tags        Referrals
// @Produce     json
// @Security    BasicAuth
// @Param       id     path   string  true   "Referral code ID"  format(uuid)
// @Param       limit  query  int     false  "Maximum events"    minimum(1) maximum(500) default(100)
// @Success     200  {object}  handlers.ReferralEventsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/referrals/codes/{id}/events [get]
func (h *Handlers) ListReferralEvents(c *gin.Context) {
	limit := utils.Clamp(utils.AtoiDefault(c.Query("limit"), 100), 1, 500)

	evs, err := h.svc.Referrals.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list referral events")
		return
	}
	if evs == nil {
		evs = []domain.ReferralEvent{}
	}
	ok(c, http.StatusOK, ReferralEventsResponse{Events: evs})
}
