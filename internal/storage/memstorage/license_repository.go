package memstorage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
)

type seatKey struct {
	purchaseID string
	seatIndex  int
}

// LicenseRepository mirrors the postgres store including the unique
// (purchase_id, seat_index) constraint, so the provisioning race tests
// exercise the same already-provisioned path.
type LicenseRepository struct {
	mu       sync.RWMutex
	nextID   int64
	licenses map[int64]*license.License
	seats    map[seatKey]int64
}

func NewLicenseRepository() *LicenseRepository {
	return &LicenseRepository{
		nextID:   1,
		licenses: make(map[int64]*license.License),
		seats:    make(map[seatKey]int64),
	}
}

var _ license.Repository = (*LicenseRepository)(nil)

func (r *LicenseRepository) Create(ctx context.Context, lic *license.License) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lic.PurchaseID.Valid {
		key := seatKey{purchaseID: lic.PurchaseID.String, seatIndex: lic.SeatIndex}
		if _, exists := r.seats[key]; exists {
			return 0, license.ErrSeatExists
		}
		r.seats[key] = r.nextID
	}

	now := time.Now().UTC()
	cp := *lic
	cp.ID = r.nextID
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.licenses[cp.ID] = &cp
	r.nextID++
	return cp.ID, nil
}

func (r *LicenseRepository) FindByID(ctx context.Context, id int64) (*license.License, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lic, ok := r.licenses[id]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	cp := *lic
	return &cp, nil
}

func (r *LicenseRepository) FindBound(ctx context.Context, productID int64, email, hardwareID string) (*license.License, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, lic := range r.licenses {
		if lic.ProductID == productID && lic.Email == email &&
			lic.HardwareID.Valid && lic.HardwareID.String == hardwareID {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, ierr.ErrNotFound
}

func (r *LicenseRepository) FindUnboundSlot(ctx context.Context, productID int64, email string) (*license.License, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidate *license.License
	for _, lic := range r.licenses {
		if lic.ProductID == productID && lic.Email == email && !lic.Bound() {
			if candidate == nil || lic.ID < candidate.ID {
				candidate = lic
			}
		}
	}
	if candidate == nil {
		return nil, ierr.ErrNotFound
	}
	cp := *candidate
	return &cp, nil
}

func (r *LicenseRepository) FindByProductAndEmail(ctx context.Context, productID int64, email string) ([]*license.License, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*license.License, 0)
	for _, lic := range r.licenses {
		if lic.ProductID == productID && lic.Email == email {
			cp := *lic
			out = append(out, &cp)
		}
	}
	sortLicenses(out)
	return out, nil
}

func (r *LicenseRepository) FindByEmail(ctx context.Context, email string) ([]*license.License, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*license.License, 0)
	for _, lic := range r.licenses {
		if lic.Email == email {
			cp := *lic
			out = append(out, &cp)
		}
	}
	sortLicenses(out)
	return out, nil
}

func (r *LicenseRepository) Bind(ctx context.Context, id int64, hardwareID string) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.licenses[id]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	now := time.Now().UTC()
	lic.HardwareID.Valid = true
	lic.HardwareID.String = hardwareID
	lic.ActivatedAt.Valid = true
	lic.ActivatedAt.Time = now
	lic.UpdatedAt = now

	cp := *lic
	return &cp, nil
}

func (r *LicenseRepository) Unbind(ctx context.Context, id int64) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.licenses[id]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	lic.HardwareID.Valid = false
	lic.HardwareID.String = ""
	lic.ActivatedAt.Valid = false
	lic.ActivatedAt.Time = time.Time{}
	lic.UpdatedAt = time.Now().UTC()

	cp := *lic
	return &cp, nil
}

func (r *LicenseRepository) CountBound(ctx context.Context, productID int64, email string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, lic := range r.licenses {
		if lic.ProductID == productID && lic.Email == email && lic.Bound() {
			count++
		}
	}
	return count, nil
}

func (r *LicenseRepository) CountByPurchase(ctx context.Context, purchaseID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, lic := range r.licenses {
		if lic.PurchaseID.Valid && lic.PurchaseID.String == purchaseID {
			count++
		}
	}
	return count, nil
}

func (r *LicenseRepository) CountBoundTotal(ctx context.Context) (int64, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bound int64
	for _, lic := range r.licenses {
		if lic.Bound() {
			bound++
		}
	}
	return bound, int64(len(r.licenses)), nil
}

func sortLicenses(licenses []*license.License) {
	sort.Slice(licenses, func(i, j int) bool {
		if licenses[i].CreatedAt.Equal(licenses[j].CreatedAt) {
			return licenses[i].ID > licenses[j].ID
		}
		return licenses[i].CreatedAt.After(licenses[j].CreatedAt)
	})
}
