package handler

import (
	"net/http"

	"github.com/codecraft-store/entitlement-api/internal/handler/dto"
	"github.com/codecraft-store/entitlement-api/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ActivationHandler struct {
	service *service.ActivationService
	logger  *zap.Logger
}

func NewActivationHandler(service *service.ActivationService, logger *zap.Logger) *ActivationHandler {
	return &ActivationHandler{
		service: service,
		logger:  logger.Named("ActivationHandler"),
	}
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func (h *ActivationHandler) Activate(c *gin.Context) {
	var req dto.ActivateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := h.service.ActivateDevice(c.Request.Context(), &req, requestMeta(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ActivationHandler) Verify(c *gin.Context) {
	var req dto.VerifyLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := h.service.VerifyLicense(c.Request.Context(), &req, requestMeta(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ActivationHandler) Release(c *gin.Context) {
	var req dto.VerifyLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.service.ReleaseDevice(c.Request.Context(), req.ProductID, req.Email, req.HardwareID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

func (h *ActivationHandler) Claim(c *gin.Context) {
	var req dto.ClaimLicensesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	licenses, err := h.service.ClaimByEmail(c.Request.Context(), req.Email)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"licenses": licenses})
}
