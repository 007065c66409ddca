package handlers

import (
	"errors"
	"io"
	"net/http"

	"domain-activation-service/internal/models"
	"domain-activation-service/internal/providers"
	"domain-activation-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const paymentSignatureHeader = "X-Payment-Signature"

// WebhookHandlers handles payment-provider webhook deliveries
type WebhookHandlers struct {
	verifier   *providers.PaymentVerifier
	reconciler *services.BillingReconciler
}

// NewWebhookHandlers creates new webhook handlers
func NewWebhookHandlers(verifier *providers.PaymentVerifier, reconciler *services.BillingReconciler) *WebhookHandlers {
	return &WebhookHandlers{
		verifier:   verifier,
		reconciler: reconciler,
	}
}

// HandlePaymentWebhook handles POST /api/v1/webhooks/payment
// @Summary Payment provider webhook endpoint
// @Description Verifies the delivery signature and folds the event into billing state
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/v1/webhooks/payment [post]
func (h *WebhookHandlers) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "failed to read payload",
			Code:  "INVALID_PAYLOAD",
		})
		return
	}

	event, err := h.verifier.VerifyAndDecode(payload, c.GetHeader(paymentSignatureHeader))
	if err != nil {
		if errors.Is(err, providers.ErrInvalidSignature) {
			log.Warn().Msg("Payment webhook with invalid signature rejected")
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: "invalid signature",
				Code:  "INVALID_SIGNATURE",
			})
			return
		}
		if errors.Is(err, providers.ErrUnhandledEventType) {
			// Acknowledge so the provider stops redelivering event types we
			// do not consume
			c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Message: "event ignored"})
			return
		}
		log.Warn().Err(err).Msg("Payment webhook payload rejected")
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "invalid payload",
			Code:  "INVALID_PAYLOAD",
		})
		return
	}

	if err := h.reconciler.HandleEvent(c.Request.Context(), event); err != nil {
		// Non-2xx makes the provider redeliver; the event is only marked
		// processed after a successful apply, so the retry re-runs it
		log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to process payment event")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to process event",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true})
}
