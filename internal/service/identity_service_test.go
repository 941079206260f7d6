package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/codecraft-store/entitlement-api/internal/domain/account"
	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/codecraft-store/entitlement-api/internal/storage/memstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMergeGuestAccount(t *testing.T) {
	purchases := memstorage.NewPurchaseRepository()
	licenses := memstorage.NewLicenseRepository()
	accounts := memstorage.NewAccountRepository(purchases, licenses)
	svc := NewIdentityService(accounts, zap.NewNop())

	ctx := context.Background()
	guestID, err := accounts.Create(ctx, &account.Account{Email: "guest@example.com", IsGuest: true})
	require.NoError(t, err)
	targetID, err := accounts.Create(ctx, &account.Account{Email: "user@example.com", IsGuest: false})
	require.NoError(t, err)

	require.NoError(t, purchases.Create(ctx, &purchase.Purchase{
		ID:         "FREE-merge-1",
		ProductID:  1,
		UserID:     sql.NullInt64{Int64: guestID, Valid: true},
		Status:     purchase.StatusApproved,
		Quantity:   1,
		PayerEmail: "guest@example.com",
	}))
	_, err = licenses.Create(ctx, &license.License{
		ProductID:  1,
		Email:      "guest@example.com",
		UserID:     sql.NullInt64{Int64: guestID, Valid: true},
		PurchaseID: sql.NullString{String: "FREE-merge-1", Valid: true},
		LicenseKey: "AAAAAA-BBBBBB-CCCCCC-DDDDDD",
	})
	require.NoError(t, err)

	require.NoError(t, svc.MergeGuestAccount(ctx, guestID, targetID))

	// Ownership moved, guest row is gone.
	p, err := purchases.FindByID(ctx, "FREE-merge-1")
	require.NoError(t, err)
	assert.Equal(t, targetID, p.UserID.Int64)

	lics, err := licenses.FindByEmail(ctx, "guest@example.com")
	require.NoError(t, err)
	require.Len(t, lics, 1)
	assert.Equal(t, targetID, lics[0].UserID.Int64)

	_, err = accounts.FindByID(ctx, guestID)
	assert.ErrorIs(t, err, ierr.ErrNotFound)
}

func TestMergeGuestAccountValidation(t *testing.T) {
	purchases := memstorage.NewPurchaseRepository()
	licenses := memstorage.NewLicenseRepository()
	accounts := memstorage.NewAccountRepository(purchases, licenses)
	svc := NewIdentityService(accounts, zap.NewNop())

	ctx := context.Background()
	guestID, err := accounts.Create(ctx, &account.Account{Email: "guest@example.com", IsGuest: true})
	require.NoError(t, err)
	otherGuestID, err := accounts.Create(ctx, &account.Account{Email: "guest2@example.com", IsGuest: true})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.MergeGuestAccount(ctx, guestID, guestID), ierr.ErrValidation)
	// Target must be a registered account.
	assert.ErrorIs(t, svc.MergeGuestAccount(ctx, guestID, otherGuestID), ierr.ErrValidation)
	// Unknown target.
	assert.ErrorIs(t, svc.MergeGuestAccount(ctx, guestID, 9999), ierr.ErrNotFound)
}
