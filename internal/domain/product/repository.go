package product

import "context"

type Repository interface {
	Create(ctx context.Context, p *Product) (int64, error)
	FindByID(ctx context.Context, id int64) (*Product, error)
	IncrementDownloadCount(ctx context.Context, id int64) error
}
