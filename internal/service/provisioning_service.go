package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/metrics"
	"github.com/codecraft-store/entitlement-api/internal/tasks"
	"github.com/codecraft-store/entitlement-api/internal/util"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskEnqueuer is the slice of *asynq.Client the coordinator needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ProvisioningService is the single funnel through which every payment status
// delivery flows, whether it arrived via webhook, the synchronous charge
// response, or the reconciliation sweep. Centralizing the transition here is
// what makes the two racing completion paths safe.
type ProvisioningService struct {
	purchases purchase.Repository
	licenses  license.Repository
	enqueuer  TaskEnqueuer
	logger    *zap.Logger
}

func NewProvisioningService(
	purchases purchase.Repository,
	licenses license.Repository,
	enqueuer TaskEnqueuer,
	logger *zap.Logger,
) *ProvisioningService {
	return &ProvisioningService{
		purchases: purchases,
		licenses:  licenses,
		enqueuer:  enqueuer,
		logger:    logger.Named("ProvisioningService"),
	}
}

// ApplyProcessorStatus folds a native processor status onto the stored
// purchase. Replays of the current status are no-ops, regressions from
// approved are refused, and the first transition into approved materializes
// the purchase's license seats.
func (s *ProvisioningService) ApplyProcessorStatus(ctx context.Context, p *purchase.Purchase, nativeStatus string, raw json.RawMessage) (*purchase.StatusChange, error) {
	newStatus := purchase.MapProcessorStatus(nativeStatus)
	change := &purchase.StatusChange{
		Purchase:  p,
		OldStatus: p.Status,
		NewStatus: newStatus,
	}

	if p.Status == newStatus {
		s.logger.Debug("Status delivery is a no-op replay",
			zap.String("purchase_id", p.ID),
			zap.String("status", string(newStatus)),
		)
		// A replayed approval is the processor's retry: if an earlier
		// materialization failed, heal it now.
		if newStatus == purchase.StatusApproved {
			s.materialize(ctx, p)
		}
		return change, nil
	}
	if !purchase.CanTransition(p.Status, newStatus) {
		s.logger.Warn("Refusing status regression on settled purchase",
			zap.String("purchase_id", p.ID),
			zap.String("from", string(p.Status)),
			zap.String("to", string(newStatus)),
		)
		return change, nil
	}

	if err := s.purchases.UpdateStatus(ctx, p.ID, newStatus, raw); err != nil {
		return nil, fmt.Errorf("updating purchase status: %w", err)
	}
	wasApproved := p.Status == purchase.StatusApproved
	p.Status = newStatus
	if raw != nil {
		p.RawResponse = raw
	}
	change.Changed = true

	s.logger.Info("Purchase status updated",
		zap.String("purchase_id", p.ID),
		zap.String("from", string(change.OldStatus)),
		zap.String("to", string(newStatus)),
	)

	if newStatus == purchase.StatusApproved && !wasApproved {
		s.materialize(ctx, p)
	}
	return change, nil
}

// materialize runs seat materialization and absorbs failures. The status is
// already persisted and the delivery gets acked either way; the next delivery
// of the same status retries through the idempotent count check.
func (s *ProvisioningService) materialize(ctx context.Context, p *purchase.Purchase) {
	if err := s.MaterializeSeats(ctx, p); err != nil {
		s.logger.Error("Seat materialization failed; will retry on next status delivery",
			zap.String("purchase_id", p.ID),
			zap.Error(err),
		)
	}
}

// MaterializeSeats creates one unbound license row per purchased seat. It is
// idempotent: rows that already exist (created by the racing completion path)
// are counted, not duplicated, and the unique seat constraint backstops the
// count check.
func (s *ProvisioningService) MaterializeSeats(ctx context.Context, p *purchase.Purchase) error {
	existing, err := s.licenses.CountByPurchase(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("counting existing seats: %w", err)
	}
	if existing >= p.Quantity {
		s.logger.Debug("Seats already materialized for purchase", zap.String("purchase_id", p.ID))
		return nil
	}

	created := 0
	for seat := existing; seat < p.Quantity; seat++ {
		key, err := util.GenerateLicenseKey()
		if err != nil {
			return fmt.Errorf("generating license key: %w", err)
		}
		lic := &license.License{
			ProductID:  p.ProductID,
			Email:      p.PayerEmail,
			UserID:     p.UserID,
			PurchaseID: sql.NullString{String: p.ID, Valid: true},
			SeatIndex:  seat,
			LicenseKey: key,
		}
		if _, err := s.licenses.Create(ctx, lic); err != nil {
			if errors.Is(err, license.ErrSeatExists) {
				// A concurrent provisioner won this seat; its row serves.
				s.logger.Info("Seat already created by concurrent provisioner",
					zap.String("purchase_id", p.ID),
					zap.Int("seat_index", seat),
				)
				continue
			}
			return fmt.Errorf("creating license seat %d: %w", seat, err)
		}
		created++
		metrics.SeatsMaterialized.Inc()
	}

	metrics.PurchasesProvisioned.Inc()
	s.logger.Info("License seats materialized",
		zap.String("purchase_id", p.ID),
		zap.Int("created", created),
		zap.Int("quantity", p.Quantity),
	)

	s.enqueueNotifications(ctx, p)
	return nil
}

// enqueueNotifications schedules the invoice and confirmation email for an
// approved purchase. Failures here never unwind provisioning.
func (s *ProvisioningService) enqueueNotifications(ctx context.Context, p *purchase.Purchase) {
	if s.enqueuer == nil {
		return
	}

	if p.Amount > 0 {
		task, err := tasks.NewInvoiceGenerateTask(p.ID, asynq.Queue("default"), asynq.MaxRetry(5))
		if err == nil {
			_, err = s.enqueuer.EnqueueContext(ctx, task)
		}
		if err != nil {
			s.logger.Error("Failed to enqueue invoice task; purchase remains provisioned",
				zap.String("purchase_id", p.ID),
				zap.Error(err),
			)
		}
	}

	task, err := tasks.NewEmailConfirmTask(p.ID, asynq.Queue("critical"), asynq.MaxRetry(5))
	if err == nil {
		_, err = s.enqueuer.EnqueueContext(ctx, task)
	}
	if err != nil {
		s.logger.Error("Failed to enqueue confirmation email task; purchase remains provisioned",
			zap.String("purchase_id", p.ID),
			zap.Error(err),
		)
	}
}
