package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const purchaseColumns = `
	id, product_id, user_id, processor_ref, status, amount, unit_price,
	quantity, currency, payer_email, payer_name, raw_response, created_at, updated_at
`

type PurchaseRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPurchaseRepository(db *pgxpool.Pool, logger *zap.Logger) *PurchaseRepository {
	return &PurchaseRepository{
		db:     db,
		logger: logger.Named("PurchaseRepository"),
	}
}

var _ purchase.Repository = (*PurchaseRepository)(nil)

func (r *PurchaseRepository) Create(ctx context.Context, p *purchase.Purchase) error {
	query := `
        INSERT INTO purchases (
            id, product_id, user_id, processor_ref, status, amount, unit_price,
            quantity, currency, payer_email, payer_name, raw_response
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `
	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.ProductID,
		p.UserID,
		p.ProcessorRef,
		p.Status,
		p.Amount,
		p.UnitPrice,
		p.Quantity,
		p.Currency,
		p.PayerEmail,
		p.PayerName,
		p.RawResponse,
	)
	if err != nil {
		r.logger.Error("Failed to create purchase in database", zap.String("id", p.ID), zap.Error(err))
		return fmt.Errorf("database error on create purchase: %w", err)
	}

	r.logger.Info("Purchase created", zap.String("id", p.ID), zap.String("status", string(p.Status)))
	return nil
}

func (r *PurchaseRepository) FindByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`
	return r.scanPurchase(r.db.QueryRow(ctx, query, id))
}

func (r *PurchaseRepository) FindByProcessorRef(ctx context.Context, ref string) (*purchase.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE processor_ref = $1`
	return r.scanPurchase(r.db.QueryRow(ctx, query, ref))
}

func (r *PurchaseRepository) FindByProductAndEmail(ctx context.Context, productID int64, email string) ([]*purchase.Purchase, error) {
	query := `
        SELECT ` + purchaseColumns + `
        FROM purchases
        WHERE product_id = $1 AND payer_email = $2
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, productID, email)
	if err != nil {
		r.logger.Error("Failed to query purchases by product and email", zap.Error(err))
		return nil, fmt.Errorf("database error listing purchases: %w", err)
	}
	defer rows.Close()
	return r.collectPurchases(rows)
}

func (r *PurchaseRepository) Search(ctx context.Context, params purchase.SearchParams) ([]*purchase.Purchase, int64, error) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 7)

	addFilter := func(cond string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if params.ProductID != nil {
		addFilter("product_id = $%d", *params.ProductID)
	}
	if params.Status != nil {
		addFilter("status = $%d", *params.Status)
	}
	if params.Email != nil {
		addFilter("payer_email ILIKE $%d", "%"+*params.Email+"%")
	}
	if params.FromDate != nil {
		addFilter("created_at >= $%d", *params.FromDate)
	}
	if params.ToDate != nil {
		addFilter("created_at <= $%d", *params.ToDate)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM purchases"+where, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count purchases for search", zap.Error(err))
		return nil, 0, fmt.Errorf("database error counting purchases: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM purchases%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		purchaseColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to search purchases", zap.Error(err))
		return nil, 0, fmt.Errorf("database error searching purchases: %w", err)
	}
	defer rows.Close()

	purchases, err := r.collectPurchases(rows)
	if err != nil {
		return nil, 0, err
	}
	return purchases, total, nil
}

func (r *PurchaseRepository) UpdateStatus(ctx context.Context, id string, status purchase.Status, rawResponse []byte) error {
	query := `
        UPDATE purchases SET
            status = $1,
            raw_response = COALESCE($2, raw_response),
            updated_at = NOW()
        WHERE id = $3
    `
	cmdTag, err := r.db.Exec(ctx, query, status, rawResponse, id)
	if err != nil {
		r.logger.Error("Failed to update purchase status", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("database error on update purchase status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		r.logger.Warn("No purchase row affected by status update", zap.String("id", id))
		return fmt.Errorf("%w: purchase %s", ierr.ErrNotFound, id)
	}

	r.logger.Info("Purchase status updated", zap.String("id", id), zap.String("status", string(status)))
	return nil
}

func (r *PurchaseRepository) SetProcessorRef(ctx context.Context, id string, ref string) error {
	query := `UPDATE purchases SET processor_ref = $1, updated_at = NOW() WHERE id = $2`
	cmdTag, err := r.db.Exec(ctx, query, ref, id)
	if err != nil {
		r.logger.Error("Failed to set processor reference", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("database error on set processor ref: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase %s", ierr.ErrNotFound, id)
	}
	return nil
}

func (r *PurchaseRepository) CountApproved(ctx context.Context, productID int64, email string) (int, error) {
	query := `
        SELECT COUNT(*) FROM purchases
        WHERE product_id = $1 AND payer_email = $2 AND status = $3
    `
	var count int
	if err := r.db.QueryRow(ctx, query, productID, email, purchase.StatusApproved).Scan(&count); err != nil {
		r.logger.Error("Failed to count approved purchases", zap.Error(err))
		return 0, fmt.Errorf("database error counting approved purchases: %w", err)
	}
	return count, nil
}

func (r *PurchaseRepository) ListPendingWithProcessorRef(ctx context.Context, olderThan time.Time, limit int) ([]*purchase.Purchase, error) {
	query := `
        SELECT ` + purchaseColumns + `
        FROM purchases
        WHERE status = $1 AND processor_ref IS NOT NULL AND created_at < $2
        ORDER BY created_at ASC
        LIMIT $3
    `
	rows, err := r.db.Query(ctx, query, purchase.StatusPending, olderThan, limit)
	if err != nil {
		r.logger.Error("Failed to list pending purchases for reconciliation", zap.Error(err))
		return nil, fmt.Errorf("database error listing pending purchases: %w", err)
	}
	defer rows.Close()
	return r.collectPurchases(rows)
}

func (r *PurchaseRepository) CountByStatus(ctx context.Context) (map[purchase.Status]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM purchases GROUP BY status`)
	if err != nil {
		r.logger.Error("Failed to count purchases by status", zap.Error(err))
		return nil, fmt.Errorf("database error counting purchases by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[purchase.Status]int64)
	for rows.Next() {
		var status purchase.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("database scan error counting purchases: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// DeleteByIDPrefix is the test/administrative purge path; normal operation
// never deletes purchases.
func (r *PurchaseRepository) DeleteByIDPrefix(ctx context.Context, prefix string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM purchases WHERE id LIKE $1 || '%'`, prefix)
	if err != nil {
		r.logger.Error("Failed to purge purchases by prefix", zap.String("prefix", prefix), zap.Error(err))
		return 0, fmt.Errorf("database error purging purchases: %w", err)
	}
	r.logger.Warn("Purchases purged by id prefix", zap.String("prefix", prefix), zap.Int64("rows", cmdTag.RowsAffected()))
	return cmdTag.RowsAffected(), nil
}

func (r *PurchaseRepository) collectPurchases(rows pgx.Rows) ([]*purchase.Purchase, error) {
	purchases := make([]*purchase.Purchase, 0)
	for rows.Next() {
		var p purchase.Purchase
		err := rows.Scan(
			&p.ID, &p.ProductID, &p.UserID, &p.ProcessorRef, &p.Status,
			&p.Amount, &p.UnitPrice, &p.Quantity, &p.Currency,
			&p.PayerEmail, &p.PayerName, &p.RawResponse, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan purchase row", zap.Error(err))
			return nil, fmt.Errorf("database scan error on purchases: %w", err)
		}
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database iteration error on purchases: %w", err)
	}
	return purchases, nil
}

func (r *PurchaseRepository) scanPurchase(row pgx.Row) (*purchase.Purchase, error) {
	var p purchase.Purchase
	err := row.Scan(
		&p.ID, &p.ProductID, &p.UserID, &p.ProcessorRef, &p.Status,
		&p.Amount, &p.UnitPrice, &p.Quantity, &p.Currency,
		&p.PayerEmail, &p.PayerName, &p.RawResponse, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrNotFound
		}
		r.logger.Error("Failed to scan purchase row", zap.Error(err))
		return nil, fmt.Errorf("database scan error: %w", err)
	}
	return &p, nil
}
