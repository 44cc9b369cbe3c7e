// Webhook intake handler.
//
// Providers look only at `ok` and retry on error-class statuses, so only
// requests that can never succeed get one: 400 for bodies that are not a JSON
// object, 413 for oversize bodies. Everything else, including internal
// failures, answers 200 with ok=false; a failed event stays unprocessed and is
// finished through the replay endpoint.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rental-funnel/internal/http/middleware"
	"github.com/tbourn/go-rental-funnel/internal/normalizer"
)

// ReceiveBooking godoc
// @ID          receiveBookingWebhook
// @Summary     Receive a booking webhook
// @Description Ingests a provider booking event. Redelivery of the same bytes is reported as a duplicate. Without a provider segment the configured default provider is used.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Secret  header  string  true   "Shared webhook secret"
// @Param       provider          path    string  true   "Provider id; POST /webhooks/booking uses the default"  example(homereserve)
// @Param       body              body    object  true   "Provider payload"
//
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     400  {object}  handlers.WebhookResponse  "Body is not a JSON object"
// @Failure     401  {object}  handlers.WebhookResponse  "Bad or missing secret"
// @Failure     413  {object}  handlers.WebhookResponse  "Body too large"
// @Router      /webhooks/booking/{provider} [post]
func (h *Handlers) ReceiveBooking(c *gin.Context) {
	provider := c.Param("provider")
	if provider == "" {
		provider = h.opts.DefaultProvider
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			webhookReply(c, http.StatusRequestEntityTooLarge, WebhookResponse{Error: WebhookErrTooLarge})
			return
		}
		webhookReply(c, http.StatusBadRequest, WebhookResponse{Error: WebhookErrInvalidJSON})
		return
	}

	res, err := h.svc.Webhooks.Process(c.Request.Context(), provider, raw)
	switch {
	case errors.Is(err, normalizer.ErrMalformedPayload):
		webhookReply(c, http.StatusBadRequest, WebhookResponse{Error: WebhookErrInvalidJSON})
		return
	case err != nil:
		middleware.LoggerFrom(c).Error().Err(err).
			Str("provider", provider).
			Str("event_id", res.EventID).
			Msg("webhook left unprocessed")
		webhookReply(c, http.StatusOK, WebhookResponse{Error: WebhookErrInternal})
		return
	}

	switch {
	case res.Duplicate:
		webhookReply(c, http.StatusOK, WebhookResponse{OK: true, Duplicate: true})
	case !res.OK():
		webhookReply(c, http.StatusOK, WebhookResponse{Error: res.Reason})
	default:
		created := res.PayoutCreated
		webhookReply(c, http.StatusOK, WebhookResponse{
			OK:            true,
			BookingID:     res.BookingID,
			PayoutCreated: &created,
		})
	}
}
