package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	appledger "github.com/profitledger/backend/internal/application/ledger"
	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/infrastructure/ecommerce"
	"github.com/profitledger/backend/internal/infrastructure/logger"
	"github.com/profitledger/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// WebhookHandler receives platform webhooks. Requests are authenticated by
// body signature, not bearer tokens.
type WebhookHandler struct {
	BaseHandler
	intake WebhookIntake
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(intake WebhookIntake) *WebhookHandler {
	return &WebhookHandler{intake: intake}
}

// Receive admits one webhook. The topic comes from the :topic path segment
// (orders_create) or, when absent, from the topic header. Re-deliveries
// answer 200 so the platform stops retrying; transient failures answer 5xx
// so it retries.
func (h *WebhookHandler) Receive(c *gin.Context) {
	topic, ok := h.topic(c)
	if !ok {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeMalformedPayload, "Unsupported webhook topic")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Webhook body too large")
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}

	shopDomain := c.GetHeader(ecommerce.HeaderShopifyShopDomain)
	ctx := logger.WithShopDomain(c.Request.Context(), shopDomain)

	n := appledger.Notification{
		Topic:       topic,
		ShopDomain:  shopDomain,
		Signature:   c.GetHeader(ecommerce.HeaderShopifyHmac),
		TriggeredAt: parseTriggeredAt(c.GetHeader(ecommerce.HeaderShopifyTriggeredAt)),
		Body:        body,
	}
	admission, err := h.intake.Admit(ctx, n)
	if err != nil {
		if errors.Is(err, domain.ErrAuthentication) {
			logger.L(ctx).Warn("Webhook rejected",
				zap.String("topic", topic.String()),
				zap.String("webhook_id", c.GetHeader(ecommerce.HeaderShopifyWebhookID)))
		}
		h.HandleError(c, err)
		return
	}

	ack := WebhookAckResponse{Duplicate: admission.Duplicate}
	if admission.Event != nil {
		ack.EventID = admission.Event.ID.String()
		ack.Status = string(admission.Event.Status)
	}
	if admission.Order != nil {
		ack.OrderID = admission.Order.ID.String()
	}
	h.Success(c, ack)
}

func (h *WebhookHandler) topic(c *gin.Context) (domain.Topic, bool) {
	if segment := c.Param("topic"); segment != "" {
		return domain.TopicFromPath(segment)
	}
	t := domain.Topic(c.GetHeader(ecommerce.HeaderShopifyTopic))
	return t, t.IsValid()
}

// parseTriggeredAt returns the zero time for a missing or unparsable header
func parseTriggeredAt(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
