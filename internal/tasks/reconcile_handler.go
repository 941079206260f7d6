package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/processor/mercadopago"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// StatusApplier is the coordinator surface the reconciliation sweep drives.
type StatusApplier interface {
	ApplyProcessorStatus(ctx context.Context, p *purchase.Purchase, nativeStatus string, raw json.RawMessage) (*purchase.StatusChange, error)
}

// ReconcileHandler periodically re-queries the processor for purchases stuck
// in pending, covering webhook deliveries that never arrived.
type ReconcileHandler struct {
	purchases purchase.Repository
	processor mercadopago.Client
	applier   StatusApplier
	logger    *zap.Logger
}

func NewReconcileHandler(purchases purchase.Repository, processor mercadopago.Client, applier StatusApplier, logger *zap.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		purchases: purchases,
		processor: processor,
		applier:   applier,
		logger:    logger.Named("ReconcileHandler"),
	}
}

const (
	reconcileMinAge    = 15 * time.Minute
	reconcileBatchSize = 200
)

func (h *ReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypePurchaseReconcile {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal reconcile task payload", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v", err)
	}

	h.logger.Info("Processing pending purchase reconciliation sweep...")

	cutoff := time.Now().UTC().Add(-reconcileMinAge)
	pending, err := h.purchases.ListPendingWithProcessorRef(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		h.logger.Error("Failed to list pending purchases for reconciliation", zap.Error(err))
		return fmt.Errorf("repository error listing pending purchases: %w", err)
	}

	checked := 0
	settled := 0
	for _, pur := range pending {
		payment, err := h.processor.GetPayment(ctx, pur.ProcessorRef.String)
		if err != nil {
			h.logger.Warn("Could not fetch payment during reconciliation",
				zap.String("purchase_id", pur.ID),
				zap.String("processor_ref", pur.ProcessorRef.String),
				zap.Error(err),
			)
			continue
		}
		checked++

		change, err := h.applier.ApplyProcessorStatus(ctx, pur, payment.Status, payment.Raw)
		if err != nil {
			h.logger.Error("Failed to apply reconciled status",
				zap.String("purchase_id", pur.ID),
				zap.Error(err),
			)
			continue
		}
		if change.Changed {
			settled++
		}
	}

	h.logger.Info("Pending purchase reconciliation finished",
		zap.Int("pending", len(pending)),
		zap.Int("checked", checked),
		zap.Int("settled", settled),
	)
	return nil
}
