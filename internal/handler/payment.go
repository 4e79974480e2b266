package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/solecraft/checkout-service/internal/domain/payment"
)

// webhookBodyLimit caps the webhook payload size. Gateway events are small;
// anything bigger is not one.
const webhookBodyLimit = 1 << 20

// Webhook receives gateway events. The signature is verified over the raw
// body before any JSON parsing. Processing failures return 500 so the
// gateway redelivers; signature failures return 400 and are never retried.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		respondBadRequest(c, errors.Wrap(err, "read body"))
		return
	}

	sig := c.GetHeader("Gateway-Signature")
	if err := payment.VerifySignature(body, sig, h.webhookSecret, h.now(), payment.DefaultSignatureTolerance); err != nil {
		zctx.From(c.Request.Context()).Warn("webhook signature rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse{
			Code:    "INVALID_SIGNATURE",
			Message: "webhook signature verification failed",
		})
		return
	}

	var event payment.Event
	if err := json.Unmarshal(body, &event); err != nil {
		respondBadRequest(c, errors.Wrap(err, "decode event"))
		return
	}

	if err := h.payments.HandleWebhook(c.Request.Context(), event); err != nil {
		zctx.From(c.Request.Context()).Error("webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{
			Code:    "WEBHOOK_FAILED",
			Message: "event processing failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
