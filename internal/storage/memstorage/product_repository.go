package memstorage

import (
	"context"
	"sync"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
)

type ProductRepository struct {
	mu       sync.RWMutex
	nextID   int64
	products map[int64]*product.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		nextID:   1,
		products: make(map[int64]*product.Product),
	}
}

var _ product.Repository = (*ProductRepository)(nil)

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	cp := *p
	cp.ID = r.nextID
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.products[cp.ID] = &cp
	r.nextID++
	return cp.ID, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, id int64) (*product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *ProductRepository) IncrementDownloadCount(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return ierr.ErrNotFound
	}
	p.DownloadCount++
	return nil
}
