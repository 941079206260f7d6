package memstorage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
)

// PurchaseRepository is a mutex-guarded in-memory ledger, behaviorally
// equivalent to the postgres implementation. Service tests run against it.
type PurchaseRepository struct {
	mu        sync.RWMutex
	purchases map[string]*purchase.Purchase
}

func NewPurchaseRepository() *PurchaseRepository {
	return &PurchaseRepository{purchases: make(map[string]*purchase.Purchase)}
}

var _ purchase.Repository = (*PurchaseRepository)(nil)

func (r *PurchaseRepository) Create(ctx context.Context, p *purchase.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	cp := *p
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.purchases[p.ID] = &cp
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (r *PurchaseRepository) FindByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.purchases[id]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PurchaseRepository) FindByProcessorRef(ctx context.Context, ref string) (*purchase.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.purchases {
		if p.ProcessorRef.Valid && p.ProcessorRef.String == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ierr.ErrNotFound
}

func (r *PurchaseRepository) FindByProductAndEmail(ctx context.Context, productID int64, email string) ([]*purchase.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*purchase.Purchase, 0)
	for _, p := range r.purchases {
		if p.ProductID == productID && p.PayerEmail == email {
			cp := *p
			out = append(out, &cp)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (r *PurchaseRepository) Search(ctx context.Context, params purchase.SearchParams) ([]*purchase.Purchase, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*purchase.Purchase, 0)
	for _, p := range r.purchases {
		if params.ProductID != nil && p.ProductID != *params.ProductID {
			continue
		}
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		if params.Email != nil && !strings.Contains(strings.ToLower(p.PayerEmail), strings.ToLower(*params.Email)) {
			continue
		}
		if params.FromDate != nil && p.CreatedAt.Before(*params.FromDate) {
			continue
		}
		if params.ToDate != nil && p.CreatedAt.After(*params.ToDate) {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}
	sortByCreatedDesc(matched)

	total := int64(len(matched))
	if params.Offset >= len(matched) {
		return []*purchase.Purchase{}, total, nil
	}
	end := params.Offset + params.Limit
	if params.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[params.Offset:end], total, nil
}

func (r *PurchaseRepository) UpdateStatus(ctx context.Context, id string, status purchase.Status, rawResponse []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.purchases[id]
	if !ok {
		return ierr.ErrNotFound
	}
	p.Status = status
	if rawResponse != nil {
		p.RawResponse = rawResponse
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *PurchaseRepository) SetProcessorRef(ctx context.Context, id string, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.purchases[id]
	if !ok {
		return ierr.ErrNotFound
	}
	p.ProcessorRef.String = ref
	p.ProcessorRef.Valid = true
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *PurchaseRepository) CountApproved(ctx context.Context, productID int64, email string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, p := range r.purchases {
		if p.ProductID == productID && p.PayerEmail == email && p.Status == purchase.StatusApproved {
			count++
		}
	}
	return count, nil
}

func (r *PurchaseRepository) ListPendingWithProcessorRef(ctx context.Context, olderThan time.Time, limit int) ([]*purchase.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*purchase.Purchase, 0)
	for _, p := range r.purchases {
		if p.Status == purchase.StatusPending && p.ProcessorRef.Valid && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PurchaseRepository) CountByStatus(ctx context.Context) (map[purchase.Status]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[purchase.Status]int64)
	for _, p := range r.purchases {
		counts[p.Status]++
	}
	return counts, nil
}

func (r *PurchaseRepository) DeleteByIDPrefix(ctx context.Context, prefix string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id := range r.purchases {
		if strings.HasPrefix(id, prefix) {
			delete(r.purchases, id)
			deleted++
		}
	}
	return deleted, nil
}

func sortByCreatedDesc(purchases []*purchase.Purchase) {
	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].CreatedAt.After(purchases[j].CreatedAt)
	})
}
