package account

import "context"

type Repository interface {
	Create(ctx context.Context, a *Account) (int64, error)
	FindByID(ctx context.Context, id int64) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// MergeGuest reassigns ownership of the guest's purchases and licenses to
	// the target account and retires the guest row, all in one transaction.
	MergeGuest(ctx context.Context, guestID, targetID int64) error
}
