package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/begoneskadedjur/kundportal-sub013/pkg/logger"
	"github.com/begoneskadedjur/kundportal-sub013/service"
)

const defaultMaxWebhookBytes = 1 << 20

// WebhookProcessor is the part of service.Processor the webhook endpoint uses
type WebhookProcessor interface {
	Process(ctx context.Context, raw []byte) (*service.ProcessResult, error)
	RecordRejected(ctx context.Context, raw []byte, reason error)
}

type WebhookHandler struct {
	processor WebhookProcessor
	maxBytes  int64
}

func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor, maxBytes: defaultMaxWebhookBytes}
}

// Receive handles one delivery from the e-signature provider
func (h *WebhookHandler) Receive(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	ctx := c.Request.Context()
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes))
	if err != nil {
		err = fmt.Errorf("%w: failed to read body: %v", service.ErrMalformedPayload, err)
		logger.Warn(ctx, "failed to read webhook body", "error", err)
		h.processor.RecordRejected(ctx, nil, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.processor.Process(ctx, body)
	if err != nil {
		var upstream *service.UpstreamError
		switch {
		case errors.Is(err, service.ErrMalformedPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload"})
		case errors.Is(err, service.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		case errors.As(err, &upstream):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":       "Failed to fetch document from provider",
				"contract_id": upstream.ContractID,
			})
		default:
			logger.Error(ctx, "webhook processing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process webhook"})
		}
		return
	}

	resp := gin.H{
		"success":          true,
		"contract_id":      result.ContractID,
		"events_processed": result.EventsProcessed,
	}
	if result.EventsFailed > 0 {
		resp["events_failed"] = result.EventsFailed
	}
	if result.Skipped {
		resp["skipped"] = true
		resp["reason"] = result.SkipReason
	}
	c.JSON(http.StatusOK, resp)
}
