package postgres

import (
	"context"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type ActivationLogRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewActivationLogRepository(db *pgxpool.Pool, logger *zap.Logger) *ActivationLogRepository {
	return &ActivationLogRepository{
		db:     db,
		logger: logger.Named("ActivationLogRepository"),
	}
}

var _ license.ActivationLogRepository = (*ActivationLogRepository)(nil)

func (r *ActivationLogRepository) Append(ctx context.Context, entry *license.ActivationLogEntry) error {
	query := `
        INSERT INTO activation_log (
            product_id, email, hardware_id, license_id, action, status,
            message, ip, user_agent
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.db.Exec(ctx, query,
		entry.ProductID,
		entry.Email,
		entry.HardwareID,
		entry.LicenseID,
		entry.Action,
		entry.Status,
		entry.Message,
		entry.IP,
		entry.UserAgent,
	)
	if err != nil {
		r.logger.Error("Failed to append activation log entry", zap.Error(err))
		return fmt.Errorf("database error on append activation log: %w", err)
	}
	return nil
}
