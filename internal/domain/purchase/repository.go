package purchase

import (
	"context"
	"time"
)

type SearchParams struct {
	ProductID *int64
	Status    *Status
	Email     *string
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}

type Repository interface {
	Create(ctx context.Context, p *Purchase) error
	FindByID(ctx context.Context, id string) (*Purchase, error)
	FindByProcessorRef(ctx context.Context, ref string) (*Purchase, error)
	FindByProductAndEmail(ctx context.Context, productID int64, email string) ([]*Purchase, error)
	Search(ctx context.Context, params SearchParams) ([]*Purchase, int64, error)
	UpdateStatus(ctx context.Context, id string, status Status, rawResponse []byte) error
	SetProcessorRef(ctx context.Context, id string, ref string) error
	CountApproved(ctx context.Context, productID int64, email string) (int, error)
	ListPendingWithProcessorRef(ctx context.Context, olderThan time.Time, limit int) ([]*Purchase, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	DeleteByIDPrefix(ctx context.Context, prefix string) (int64, error)
}
