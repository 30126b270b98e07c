// Package handler implements HTTP request handlers
// Following Hexagonal Architecture: Adapters translate HTTP to domain logic
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"syncbridge/internal/adapters/gateway"
	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/services"
)

// maxWebhookBody caps what we read from a webhook request
const maxWebhookBody = 1 << 20

// Ingestor admits a verified webhook for asynchronous processing
type Ingestor interface {
	Accept(ctx context.Context, platform domain.Platform, header http.Header, body []byte) (services.Acceptance, error)
}

// Handshaker extracts a subscription validation token, if the request is a handshake
type Handshaker interface {
	ValidationToken(header http.Header, body []byte) string
}

// WebhookHandler receives platform webhooks. Responses never wait on remote APIs.
type WebhookHandler struct {
	ingest    Ingestor
	handshake Handshaker
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(ingest Ingestor, handshake Handshaker) *WebhookHandler {
	return &WebhookHandler{ingest: ingest, handshake: handshake}
}

// ============================================================================
// POST /webhooks/livechat
// ============================================================================

// HandleLiveChat handles LiveChat webhook deliveries
func (h *WebhookHandler) HandleLiveChat(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	h.accept(c, domain.PlatformLiveChat, body)
}

// ============================================================================
// POST /webhooks/ringcentral
// ============================================================================

// HandleRingCentral handles RingCentral notifications and the subscription handshake
func (h *WebhookHandler) HandleRingCentral(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	// Subscription setup: echo the token back, nothing is recorded
	if h.handshake != nil {
		if token := h.handshake.ValidationToken(c.Request.Header, body); token != "" {
			slog.Info("RingCentral validation handshake received")
			c.Header(gateway.ValidationTokenHeader, token)
			c.JSON(http.StatusOK, gin.H{"validationToken": token})
			return
		}
	}

	h.accept(c, domain.PlatformRingCentral, body)
}

func (h *WebhookHandler) accept(c *gin.Context, platform domain.Platform, body []byte) {
	acc, err := h.ingest.Accept(c.Request.Context(), platform, c.Request.Header, body)
	if err != nil {
		respond(c, webhookErrorResponse(platform, err))
		return
	}

	env := acc.Event.Meta()
	data := gin.H{
		"event_id":  env.ExternalEventID,
		"admission": acc.Admission.String(),
	}
	if acc.Admission == services.Duplicate {
		slog.Info("Duplicate webhook acknowledged",
			"platform", platform,
			"event_id", env.ExternalEventID,
		)
		respond(c, APIResponse{Code: http.StatusOK, Message: "Duplicate", Data: data})
		return
	}
	respond(c, APIResponse{Code: http.StatusOK, Message: "Accepted", Data: data})
}

// webhookErrorResponse maps ingest failures onto the status the platform should see.
// Only 503 and 500 make the sender redeliver.
func webhookErrorResponse(platform domain.Platform, err error) APIResponse {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		slog.Warn("Webhook signature validation failed", "platform", platform)
		return UnauthorizedResponse("Invalid signature")

	case errors.Is(err, domain.ErrMalformedPayload):
		slog.Warn("Malformed webhook payload", "platform", platform, "error", err)
		return BadRequestResponse("Malformed payload")

	case errors.Is(err, domain.ErrUnsupportedEvent):
		slog.Warn("Unsupported webhook event ignored", "platform", platform, "error", err)
		return APIResponse{Code: http.StatusOK, Message: "Ignored"}

	case errors.Is(err, domain.ErrQueueFull):
		slog.Warn("Ingest queue full, asking sender to redeliver", "platform", platform)
		return ServiceUnavailableResponse("Queue full, retry later")

	default:
		slog.Error("Failed to record webhook", "platform", platform, "error", err)
		return InternalErrorResponse("Failed to record webhook")
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Failed to read webhook body", "error", err)
		respond(c, BadRequestResponse("Unreadable body"))
		return nil, false
	}
	return body, true
}
