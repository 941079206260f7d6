package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/account"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type AccountRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAccountRepository(db *pgxpool.Pool, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger.Named("AccountRepository"),
	}
}

var _ account.Repository = (*AccountRepository)(nil)

func (r *AccountRepository) Create(ctx context.Context, a *account.Account) (int64, error) {
	query := `
        INSERT INTO accounts (email, name, is_guest)
        VALUES ($1, $2, $3)
        RETURNING id
    `
	var insertedID int64
	if err := r.db.QueryRow(ctx, query, a.Email, a.Name, a.IsGuest).Scan(&insertedID); err != nil {
		r.logger.Error("Failed to create account", zap.String("email", a.Email), zap.Error(err))
		return 0, fmt.Errorf("database error on create account: %w", err)
	}
	return insertedID, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	return r.scanAccount(r.db.QueryRow(ctx,
		`SELECT id, email, name, is_guest, created_at FROM accounts WHERE id = $1`, id))
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return r.scanAccount(r.db.QueryRow(ctx,
		`SELECT id, email, name, is_guest, created_at FROM accounts WHERE email = $1`, email))
}

// MergeGuest moves ownership references and retires the guest row in a single
// transaction so the merge can never half-complete.
func (r *AccountRepository) MergeGuest(ctx context.Context, guestID, targetID int64) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var isGuest bool
	err = tx.QueryRow(ctx, `SELECT is_guest FROM accounts WHERE id = $1 FOR UPDATE`, guestID).Scan(&isGuest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: account %d", ierr.ErrNotFound, guestID)
		}
		return fmt.Errorf("database error locking guest account: %w", err)
	}
	if !isGuest {
		return fmt.Errorf("%w: account %d is not a guest", ierr.ErrValidation, guestID)
	}

	if _, err := tx.Exec(ctx, `UPDATE purchases SET user_id = $1 WHERE user_id = $2`, targetID, guestID); err != nil {
		return fmt.Errorf("database error reassigning purchases: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE licenses SET user_id = $1 WHERE user_id = $2`, targetID, guestID); err != nil {
		return fmt.Errorf("database error reassigning licenses: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, guestID); err != nil {
		return fmt.Errorf("database error retiring guest account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit merge transaction: %w", err)
	}

	r.logger.Info("Guest account merged", zap.Int64("guest_id", guestID), zap.Int64("target_id", targetID))
	return nil
}

func (r *AccountRepository) scanAccount(row pgx.Row) (*account.Account, error) {
	var a account.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.IsGuest, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrNotFound
		}
		r.logger.Error("Failed to scan account row", zap.Error(err))
		return nil, fmt.Errorf("database scan error on account: %w", err)
	}
	return &a, nil
}
