package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/notify"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type EmailHandler struct {
	purchases purchase.Repository
	products  product.Repository
	licenses  license.Repository
	notifier  notify.EmailNotifier
	artifacts notify.ArtifactResolver
	logger    *zap.Logger
}

func NewEmailHandler(
	purchases purchase.Repository,
	products product.Repository,
	licenses license.Repository,
	notifier notify.EmailNotifier,
	artifacts notify.ArtifactResolver,
	logger *zap.Logger,
) *EmailHandler {
	return &EmailHandler{
		purchases: purchases,
		products:  products,
		licenses:  licenses,
		notifier:  notifier,
		artifacts: artifacts,
		logger:    logger.Named("EmailHandler"),
	}
}

func (h *EmailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeEmailConfirm {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p PurchasePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal email task payload", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v", err)
	}

	pur, err := h.purchases.FindByID(ctx, p.PurchaseID)
	if err != nil {
		return fmt.Errorf("loading purchase %s for confirmation email: %w", p.PurchaseID, err)
	}
	if pur.Status != purchase.StatusApproved {
		h.logger.Warn("Skipping confirmation email for non-approved purchase",
			zap.String("purchase_id", pur.ID),
			zap.String("status", string(pur.Status)),
		)
		return nil
	}

	req := &notify.EmailRequest{
		Recipient:  pur.PayerEmail,
		PurchaseID: pur.ID,
		Amount:     pur.Amount,
	}
	if prod, err := h.products.FindByID(ctx, pur.ProductID); err == nil {
		req.ProductName = prod.Name
		if prod.Version.Valid {
			req.ProductVersion = prod.Version.String
		}
	}
	if url, err := h.artifacts.DownloadURL(ctx, pur.ProductID); err == nil {
		req.DownloadReference = url
	}
	if key := h.purchaseLicenseKey(ctx, pur); key != "" {
		req.LicenseKey = key
	}

	if err := h.notifier.Send(ctx, req); err != nil {
		h.logger.Error("Confirmation email failed, task will be retried",
			zap.String("purchase_id", pur.ID),
			zap.Error(err),
		)
		return fmt.Errorf("sending confirmation email for %s: %w", pur.ID, err)
	}

	h.logger.Info("Confirmation email sent", zap.String("purchase_id", pur.ID))
	return nil
}

func (h *EmailHandler) purchaseLicenseKey(ctx context.Context, pur *purchase.Purchase) string {
	lics, err := h.licenses.FindByProductAndEmail(ctx, pur.ProductID, pur.PayerEmail)
	if err != nil {
		return ""
	}
	for _, lic := range lics {
		if lic.PurchaseID.Valid && lic.PurchaseID.String == pur.ID {
			return lic.LicenseKey
		}
	}
	return ""
}
