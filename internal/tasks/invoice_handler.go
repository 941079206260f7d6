package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/notify"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	purchases purchase.Repository
	products  product.Repository
	generator notify.InvoiceGenerator
	logger    *zap.Logger
}

func NewInvoiceHandler(purchases purchase.Repository, products product.Repository, generator notify.InvoiceGenerator, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		purchases: purchases,
		products:  products,
		generator: generator,
		logger:    logger.Named("InvoiceHandler"),
	}
}

func (h *InvoiceHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeInvoiceGenerate {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p PurchasePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal invoice task payload", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v", err)
	}

	pur, err := h.purchases.FindByID(ctx, p.PurchaseID)
	if err != nil {
		return fmt.Errorf("loading purchase %s for invoice: %w", p.PurchaseID, err)
	}
	if pur.Status != purchase.StatusApproved {
		h.logger.Warn("Skipping invoice for non-approved purchase",
			zap.String("purchase_id", pur.ID),
			zap.String("status", string(pur.Status)),
		)
		return nil
	}
	if pur.Amount == 0 {
		return nil
	}

	req := &notify.InvoiceRequest{
		PurchaseID: pur.ID,
		ProductID:  pur.ProductID,
		Amount:     pur.Amount,
		PayerEmail: pur.PayerEmail,
	}
	if pur.PayerName.Valid {
		req.PayerName = pur.PayerName.String
	}
	if prod, err := h.products.FindByID(ctx, pur.ProductID); err == nil {
		req.ProductName = prod.Name
	}

	if err := h.generator.Generate(ctx, req); err != nil {
		h.logger.Error("Invoice generation failed, task will be retried",
			zap.String("purchase_id", pur.ID),
			zap.Error(err),
		)
		return fmt.Errorf("generating invoice for %s: %w", pur.ID, err)
	}

	h.logger.Info("Invoice generated", zap.String("purchase_id", pur.ID))
	return nil
}
