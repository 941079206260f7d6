package handler

import (
	"net/http"

	"github.com/codecraft-store/entitlement-api/internal/handler/dto"
	"github.com/codecraft-store/entitlement-api/internal/processor/mercadopago"
	"github.com/codecraft-store/entitlement-api/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WebhookHandler struct {
	service *service.PurchaseService
	auth    *mercadopago.Authenticator
	logger  *zap.Logger
}

func NewWebhookHandler(service *service.PurchaseService, auth *mercadopago.Authenticator, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		auth:    auth,
		logger:  logger.Named("WebhookHandler"),
	}
}

type webhookBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// HandleMercadoPago receives processor notifications. The notification id and
// type arrive redundantly in the query string and the body; the query string
// wins because it is what the signature covers.
func (h *WebhookHandler) HandleMercadoPago(c *gin.Context) {
	var body webhookBody
	_ = c.ShouldBindJSON(&body)

	dataID := c.Query("data.id")
	if dataID == "" {
		dataID = body.Data.ID
	}
	notificationType := c.Query("type")
	if notificationType == "" {
		notificationType = c.Query("topic")
	}
	if notificationType == "" {
		notificationType = body.Type
	}

	if err := h.auth.Authenticate(c.GetHeader("x-signature"), c.GetHeader("x-request-id"), dataID); err != nil {
		h.logger.Warn("Webhook signature rejected", zap.String("data_id", dataID), zap.Error(err))
		_ = c.Error(err)
		return
	}

	if dataID == "" {
		h.logger.Debug("Webhook without data id, acknowledging")
		c.JSON(http.StatusOK, dto.WebhookAck{Received: true, Reason: "missing data id"})
		return
	}

	ack, err := h.service.HandleWebhook(c.Request.Context(), notificationType, dataID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ack)
}
