package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type ProductRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewProductRepository(db *pgxpool.Pool, logger *zap.Logger) *ProductRepository {
	return &ProductRepository{
		db:     db,
		logger: logger.Named("ProductRepository"),
	}
}

var _ product.Repository = (*ProductRepository)(nil)

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) (int64, error) {
	query := `
        INSERT INTO products (name, version, short_description, price, status, download_url, thumb_url)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	var insertedID int64
	err := r.db.QueryRow(ctx, query,
		p.Name, p.Version, p.ShortDescription, p.Price, p.Status, p.DownloadURL, p.ThumbURL,
	).Scan(&insertedID)
	if err != nil {
		r.logger.Error("Failed to create product", zap.String("name", p.Name), zap.Error(err))
		return 0, fmt.Errorf("database error on create product: %w", err)
	}
	return insertedID, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, id int64) (*product.Product, error) {
	query := `
        SELECT id, name, version, short_description, price, status,
               download_url, thumb_url, download_count, created_at, updated_at
        FROM products
        WHERE id = $1
    `
	var p product.Product
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Version, &p.ShortDescription, &p.Price, &p.Status,
		&p.DownloadURL, &p.ThumbURL, &p.DownloadCount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrNotFound
		}
		r.logger.Error("Failed to scan product row", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("database scan error on product: %w", err)
	}
	return &p, nil
}

func (r *ProductRepository) IncrementDownloadCount(ctx context.Context, id int64) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE products SET download_count = download_count + 1 WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to increment download count", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("database error incrementing download count: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", ierr.ErrNotFound, id)
	}
	return nil
}
