package handler

import (
	"io"

	"checkout-core/internal/adapter/http/dto"
	"checkout-core/internal/core/ports"
	"checkout-core/pkg/apperror"
	"checkout-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// signatureHeaders lists the headers checked for the provider signature, in
// priority order. Chapa sends both Chapa-Signature and x-chapa-signature;
// the generic name covers providers added later.
var signatureHeaders = []string{
	"Chapa-Signature",
	"X-Chapa-Signature",
	"X-Webhook-Signature",
}

// WebhookHandler receives inbound settlement notifications.
type WebhookHandler struct {
	txnSvc ports.TransactionService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(txnSvc ports.TransactionService) *WebhookHandler {
	return &WebhookHandler{txnSvc: txnSvc}
}

// Handle handles POST /api/v1/webhooks/:provider. The raw body is passed
// through untouched so signature verification sees exactly what was sent.
func (h *WebhookHandler) Handle(c *gin.Context) {
	provider := c.Param("provider")

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.ErrInvalidPayload())
		return
	}

	result, err := h.txnSvc.HandleWebhook(c.Request.Context(), provider, payload, extractSignature(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	ack := dto.WebhookAckResponse{Outcome: string(result.Outcome)}
	if result.Transaction != nil {
		id := result.Transaction.ID.String()
		ref := result.Transaction.Reference
		ack.TransactionID = &id
		ack.Reference = &ref
	}
	response.OK(c, ack)
}

func extractSignature(c *gin.Context) string {
	for _, name := range signatureHeaders {
		if v := c.GetHeader(name); v != "" {
			return v
		}
	}
	return ""
}
