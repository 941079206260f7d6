package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const licenseColumns = `
	id, product_id, email, user_id, purchase_id, seat_index, hardware_id,
	license_key, activated_at, created_at, updated_at
`

type LicenseRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewLicenseRepository(db *pgxpool.Pool, logger *zap.Logger) *LicenseRepository {
	return &LicenseRepository{
		db:     db,
		logger: logger.Named("LicenseRepository"),
	}
}

var _ license.Repository = (*LicenseRepository)(nil)

func (r *LicenseRepository) Create(ctx context.Context, lic *license.License) (int64, error) {
	query := `
        INSERT INTO licenses (
            product_id, email, user_id, purchase_id, seat_index,
            hardware_id, license_key, activated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	var insertedID int64
	err := r.db.QueryRow(ctx, query,
		lic.ProductID,
		lic.Email,
		lic.UserID,
		lic.PurchaseID,
		lic.SeatIndex,
		lic.HardwareID,
		lic.LicenseKey,
		lic.ActivatedAt,
	).Scan(&insertedID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The unique index on (purchase_id, seat_index) is what makes the
			// two racing completion paths safe: the loser lands here.
			r.logger.Warn("Duplicate seat insert rejected by constraint",
				zap.String("purchase_id", lic.PurchaseID.String),
				zap.Int("seat_index", lic.SeatIndex),
				zap.String("constraint", pgErr.ConstraintName),
			)
			return 0, license.ErrSeatExists
		}
		r.logger.Error("Failed to create license in database", zap.Error(err))
		return 0, fmt.Errorf("database error on create license: %w", err)
	}

	r.logger.Info("License created", zap.Int64("id", insertedID), zap.String("key", lic.LicenseKey))
	return insertedID, nil
}

func (r *LicenseRepository) FindByID(ctx context.Context, id int64) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1`
	return r.scanLicense(r.db.QueryRow(ctx, query, id))
}

func (r *LicenseRepository) FindBound(ctx context.Context, productID int64, email, hardwareID string) (*license.License, error) {
	query := `
        SELECT ` + licenseColumns + `
        FROM licenses
        WHERE product_id = $1 AND email = $2 AND hardware_id = $3
        LIMIT 1
    `
	return r.scanLicense(r.db.QueryRow(ctx, query, productID, email, hardwareID))
}

func (r *LicenseRepository) FindUnboundSlot(ctx context.Context, productID int64, email string) (*license.License, error) {
	query := `
        SELECT ` + licenseColumns + `
        FROM licenses
        WHERE product_id = $1 AND email = $2
          AND (hardware_id IS NULL OR hardware_id = '')
        ORDER BY id ASC
        LIMIT 1
    `
	return r.scanLicense(r.db.QueryRow(ctx, query, productID, email))
}

func (r *LicenseRepository) FindByProductAndEmail(ctx context.Context, productID int64, email string) ([]*license.License, error) {
	query := `
        SELECT ` + licenseColumns + `
        FROM licenses
        WHERE product_id = $1 AND email = $2
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, productID, email)
	if err != nil {
		r.logger.Error("Failed to query licenses by product and email", zap.Error(err))
		return nil, fmt.Errorf("database error listing licenses: %w", err)
	}
	defer rows.Close()
	return r.collectLicenses(rows)
}

func (r *LicenseRepository) FindByEmail(ctx context.Context, email string) ([]*license.License, error) {
	query := `
        SELECT ` + licenseColumns + `
        FROM licenses
        WHERE email = $1
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, email)
	if err != nil {
		r.logger.Error("Failed to query licenses by email", zap.Error(err))
		return nil, fmt.Errorf("database error listing licenses: %w", err)
	}
	defer rows.Close()
	return r.collectLicenses(rows)
}

func (r *LicenseRepository) Bind(ctx context.Context, id int64, hardwareID string) (*license.License, error) {
	query := `
        UPDATE licenses SET
            hardware_id = $1,
            activated_at = NOW(),
            updated_at = NOW()
        WHERE id = $2
        RETURNING ` + licenseColumns
	lic, err := r.scanLicense(r.db.QueryRow(ctx, query, hardwareID, id))
	if err != nil {
		if errors.Is(err, ierr.ErrNotFound) {
			r.logger.Warn("Bind targeted a missing license", zap.Int64("id", id))
			return nil, fmt.Errorf("%w: license %d", ierr.ErrNotFound, id)
		}
		return nil, err
	}
	r.logger.Info("License bound to device", zap.Int64("id", id), zap.String("hardware_id", hardwareID))
	return lic, nil
}

func (r *LicenseRepository) Unbind(ctx context.Context, id int64) (*license.License, error) {
	query := `
        UPDATE licenses SET
            hardware_id = NULL,
            activated_at = NULL,
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + licenseColumns
	lic, err := r.scanLicense(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, ierr.ErrNotFound) {
			return nil, fmt.Errorf("%w: license %d", ierr.ErrNotFound, id)
		}
		return nil, err
	}
	r.logger.Info("License released", zap.Int64("id", id))
	return lic, nil
}

func (r *LicenseRepository) CountBound(ctx context.Context, productID int64, email string) (int, error) {
	query := `
        SELECT COUNT(*) FROM licenses
        WHERE product_id = $1 AND email = $2
          AND hardware_id IS NOT NULL AND hardware_id <> ''
    `
	var count int
	if err := r.db.QueryRow(ctx, query, productID, email).Scan(&count); err != nil {
		r.logger.Error("Failed to count bound licenses", zap.Error(err))
		return 0, fmt.Errorf("database error counting bound licenses: %w", err)
	}
	return count, nil
}

func (r *LicenseRepository) CountByPurchase(ctx context.Context, purchaseID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM licenses WHERE purchase_id = $1`, purchaseID).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count licenses by purchase", zap.String("purchase_id", purchaseID), zap.Error(err))
		return 0, fmt.Errorf("database error counting licenses by purchase: %w", err)
	}
	return count, nil
}

func (r *LicenseRepository) CountBoundTotal(ctx context.Context) (int64, int64, error) {
	query := `
        SELECT
            COUNT(*) FILTER (WHERE hardware_id IS NOT NULL AND hardware_id <> ''),
            COUNT(*)
        FROM licenses
    `
	var bound, total int64
	if err := r.db.QueryRow(ctx, query).Scan(&bound, &total); err != nil {
		r.logger.Error("Failed to count licenses totals", zap.Error(err))
		return 0, 0, fmt.Errorf("database error counting licenses: %w", err)
	}
	return bound, total, nil
}

func (r *LicenseRepository) collectLicenses(rows pgx.Rows) ([]*license.License, error) {
	licenses := make([]*license.License, 0)
	for rows.Next() {
		var lic license.License
		err := rows.Scan(
			&lic.ID, &lic.ProductID, &lic.Email, &lic.UserID, &lic.PurchaseID,
			&lic.SeatIndex, &lic.HardwareID, &lic.LicenseKey, &lic.ActivatedAt,
			&lic.CreatedAt, &lic.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan license row", zap.Error(err))
			return nil, fmt.Errorf("database scan error on licenses: %w", err)
		}
		licenses = append(licenses, &lic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database iteration error on licenses: %w", err)
	}
	return licenses, nil
}

func (r *LicenseRepository) scanLicense(row pgx.Row) (*license.License, error) {
	var lic license.License
	err := row.Scan(
		&lic.ID, &lic.ProductID, &lic.Email, &lic.UserID, &lic.PurchaseID,
		&lic.SeatIndex, &lic.HardwareID, &lic.LicenseKey, &lic.ActivatedAt,
		&lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrNotFound
		}
		r.logger.Error("Failed to scan license row", zap.Error(err))
		return nil, fmt.Errorf("database scan error: %w", err)
	}
	return &lic, nil
}
