package license

import "context"

type Repository interface {
	// Create returns ErrSeatExists when (purchase_id, seat_index) is already
	// taken, which the provisioning path treats as "already materialized".
	Create(ctx context.Context, lic *License) (int64, error)
	FindByID(ctx context.Context, id int64) (*License, error)
	FindBound(ctx context.Context, productID int64, email, hardwareID string) (*License, error)
	FindUnboundSlot(ctx context.Context, productID int64, email string) (*License, error)
	FindByProductAndEmail(ctx context.Context, productID int64, email string) ([]*License, error)
	FindByEmail(ctx context.Context, email string) ([]*License, error)
	Bind(ctx context.Context, id int64, hardwareID string) (*License, error)
	Unbind(ctx context.Context, id int64) (*License, error)
	CountBound(ctx context.Context, productID int64, email string) (int, error)
	CountByPurchase(ctx context.Context, purchaseID string) (int, error)
	CountBoundTotal(ctx context.Context) (int64, int64, error)
}

type ActivationLogRepository interface {
	Append(ctx context.Context, entry *ActivationLogEntry) error
}
