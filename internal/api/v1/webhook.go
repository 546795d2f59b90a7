package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/planpay/planpay/internal/gateway/webhook"
	"github.com/planpay/planpay/internal/logger"
	"github.com/planpay/planpay/internal/service"
)

type WebhookHandler struct {
	normalizer *webhook.Normalizer
	processor  service.WebhookProcessorService
	log        *logger.Logger
}

func NewWebhookHandler(normalizer *webhook.Normalizer, processor service.WebhookProcessorService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{normalizer: normalizer, processor: processor, log: log}
}

// HandleGatewayEvent ingests one gateway webhook delivery. Deliberate no-ops
// (unknown subscriptions, duplicate deliveries, unsupported event types)
// return 200 so the gateway stops redelivering; only retryable internal
// failures return a 5xx to request redelivery.
func (h *WebhookHandler) HandleGatewayEvent(c *gin.Context) {
	var envelope webhook.Envelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		h.log.Warnw("malformed webhook envelope", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid webhook envelope").
			Mark(ierr.ErrValidation))
		return
	}

	h.log.Infow("received gateway webhook",
		"event_id", envelope.ID,
		"event_type", envelope.EventType,
		"event_date", envelope.EventDate,
	)

	event := h.normalizer.Normalize(&envelope)

	result, err := h.processor.ProcessEvent(c.Request.Context(), event)
	if err != nil {
		// every processing error is retryable from the gateway's point of
		// view; answer 5xx so it redelivers
		h.log.Errorw("failed to process gateway webhook",
			"event_id", envelope.ID,
			"event_type", envelope.EventType,
			"error", err,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"retry":   true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}
