package memstorage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/domain/account"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
)

// AccountRepository keeps accounts in memory. MergeGuest reaches into the
// in-memory purchase and license stores; the account lock serializes merges.
type AccountRepository struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*account.Account

	purchases *PurchaseRepository
	licenses  *LicenseRepository
}

func NewAccountRepository(purchases *PurchaseRepository, licenses *LicenseRepository) *AccountRepository {
	return &AccountRepository{
		nextID:    1,
		accounts:  make(map[int64]*account.Account),
		purchases: purchases,
		licenses:  licenses,
	}
}

var _ account.Repository = (*AccountRepository)(nil)

func (r *AccountRepository) Create(ctx context.Context, a *account.Account) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *a
	cp.ID = r.nextID
	cp.CreatedAt = time.Now().UTC()
	r.accounts[cp.ID] = &cp
	r.nextID++
	return cp.ID, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ierr.ErrNotFound
}

func (r *AccountRepository) MergeGuest(ctx context.Context, guestID, targetID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	guest, ok := r.accounts[guestID]
	if !ok {
		return fmt.Errorf("%w: account %d", ierr.ErrNotFound, guestID)
	}
	if !guest.IsGuest {
		return fmt.Errorf("%w: account %d is not a guest", ierr.ErrValidation, guestID)
	}

	r.purchases.reassignOwner(guestID, targetID)
	r.licenses.reassignOwner(guestID, targetID)
	delete(r.accounts, guestID)
	return nil
}

func (r *PurchaseRepository) reassignOwner(fromID, toID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.purchases {
		if p.UserID.Valid && p.UserID.Int64 == fromID {
			p.UserID.Int64 = toID
		}
	}
}

func (r *LicenseRepository) reassignOwner(fromID, toID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, lic := range r.licenses {
		if lic.UserID.Valid && lic.UserID.Int64 == fromID {
			lic.UserID.Int64 = toID
		}
	}
}
