package handler

import (
	"net/http"

	"github.com/codecraft-store/entitlement-api/internal/handler/dto"
	"github.com/codecraft-store/entitlement-api/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AccountHandler struct {
	service *service.IdentityService
	logger  *zap.Logger
}

func NewAccountHandler(service *service.IdentityService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		service: service,
		logger:  logger.Named("AccountHandler"),
	}
}

func (h *AccountHandler) Merge(c *gin.Context) {
	var req dto.MergeAccountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.service.MergeGuestAccount(c.Request.Context(), req.GuestID, req.TargetID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merged": true})
}
