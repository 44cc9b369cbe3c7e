// Package handlers provides HTTP handler implementations for the webhook
// intake endpoint and the read-mostly reporting API.
//
// Two response shapes exist:
//   - the reporting API returns ErrorResponse with a stable `code` on failure;
//   - the webhook endpoint always answers with WebhookResponse, because
//     upstream providers only look at `ok` and retry on error-class statuses.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "webhook event not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rental-funnel/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by reporting endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// WebhookResponse is the envelope returned to booking providers.
type WebhookResponse struct {
	OK            bool   `json:"ok" example:"true"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	BookingID     string `json:"booking_id,omitempty" example:"5f0c7a52-8a55-4c53-9d0e-0b5b7c1f1d61"`
	PayoutCreated *bool  `json:"payout_created,omitempty"`
	Error         string `json:"error,omitempty" example:"missing booking id"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for router-level handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// webhookReply writes a WebhookResponse and stops the chain.
func webhookReply(c *gin.Context, status int, body WebhookResponse) {
	c.AbortWithStatusJSON(status, body)
}
