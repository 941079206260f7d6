package service

import (
	"context"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/account"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"go.uber.org/zap"
)

type IdentityService struct {
	accounts account.Repository
	logger   *zap.Logger
}

func NewIdentityService(accounts account.Repository, logger *zap.Logger) *IdentityService {
	return &IdentityService{
		accounts: accounts,
		logger:   logger.Named("IdentityService"),
	}
}

// MergeGuestAccount folds a guest account created at purchase time into a
// registered account, moving purchase and license ownership with it.
func (s *IdentityService) MergeGuestAccount(ctx context.Context, guestID, targetID int64) error {
	if guestID == targetID {
		return fmt.Errorf("%w: cannot merge an account into itself", ierr.ErrValidation)
	}

	target, err := s.accounts.FindByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("looking up target account: %w", err)
	}
	if target.IsGuest {
		return fmt.Errorf("%w: merge target must be a registered account", ierr.ErrValidation)
	}

	if err := s.accounts.MergeGuest(ctx, guestID, targetID); err != nil {
		return err
	}

	s.logger.Info("Guest account merged",
		zap.Int64("guest_id", guestID),
		zap.Int64("target_id", targetID),
	)
	return nil
}
