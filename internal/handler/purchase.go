package handler

import (
	"net/http"
	"strconv"

	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/handler/dto"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/codecraft-store/entitlement-api/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PurchaseHandler struct {
	service *service.PurchaseService
	logger  *zap.Logger
}

func NewPurchaseHandler(service *service.PurchaseService, logger *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		service: service,
		logger:  logger.Named("PurchaseHandler"),
	}
}

func productIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		_ = c.Error(ierr.ErrValidation)
		return 0, false
	}
	return id, true
}

func (h *PurchaseHandler) Checkout(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := h.service.Checkout(c.Request.Context(), productID, &req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *PurchaseHandler) DirectCharge(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	var req dto.DirectPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := h.service.DirectCharge(c.Request.Context(), productID, &req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PurchaseHandler) Status(c *gin.Context) {
	resp, err := h.service.GetPurchaseStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PurchaseHandler) Search(c *gin.Context) {
	var req dto.SearchPurchasesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(err)
		return
	}

	purchases, total, err := h.service.Search(c.Request.Context(), purchase.SearchParams{
		ProductID: req.ProductID,
		Status:    req.Status,
		Email:     req.Email,
		FromDate:  req.FromDate,
		ToDate:    req.ToDate,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	responses := make([]*dto.PurchaseResponse, len(purchases))
	for i, p := range purchases {
		responses[i] = dto.NewPurchaseResponse(p)
	}
	c.JSON(http.StatusOK, dto.PaginatedPurchaseResponse{
		Purchases:  responses,
		TotalCount: total,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
}

func (h *PurchaseHandler) GetByID(c *gin.Context) {
	p, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPurchaseResponse(p))
}

func (h *PurchaseHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdatePurchaseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	change, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), *req.Status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"changed":    change.Changed,
		"old_status": change.OldStatus,
		"new_status": change.NewStatus,
	})
}
