package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/handler/dto"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/codecraft-store/entitlement-api/internal/storage/memstorage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type activationFixture struct {
	svc         *ActivationService
	provisioner *ProvisioningService
	purchases   *memstorage.PurchaseRepository
	licenses    *memstorage.LicenseRepository
	products    *memstorage.ProductRepository
	log         *memstorage.ActivationLogRepository
}

func newActivationFixture(t *testing.T) *activationFixture {
	t.Helper()

	purchases := memstorage.NewPurchaseRepository()
	licenses := memstorage.NewLicenseRepository()
	products := memstorage.NewProductRepository()
	activityLog := memstorage.NewActivationLogRepository()

	logger := zap.NewNop()
	return &activationFixture{
		svc:         NewActivationService(licenses, purchases, products, activityLog, logger),
		provisioner: NewProvisioningService(purchases, licenses, nil, logger),
		purchases:   purchases,
		licenses:    licenses,
		products:    products,
		log:         activityLog,
	}
}

func (f *activationFixture) seedProduct(t *testing.T, name string, price int64) int64 {
	t.Helper()
	id, err := f.products.Create(context.Background(), &product.Product{
		Name:   name,
		Price:  price,
		Status: product.StatusPublished,
	})
	require.NoError(t, err)
	return id
}

// seedApprovedPurchase creates an approved purchase and materializes its
// seats the way the provisioning path would.
func (f *activationFixture) seedApprovedPurchase(t *testing.T, productID int64, email string, quantity int) *purchase.Purchase {
	t.Helper()
	p := &purchase.Purchase{
		ID:         "PAY-" + uuid.NewString(),
		ProductID:  productID,
		Status:     purchase.StatusPending,
		Quantity:   quantity,
		Currency:   "BRL",
		PayerEmail: email,
	}
	require.NoError(t, f.purchases.Create(context.Background(), p))
	_, err := f.provisioner.ApplyProcessorStatus(context.Background(), p, "approved", nil)
	require.NoError(t, err)
	return p
}

func activateReq(productID int64, email, hwid string) *dto.ActivateDeviceRequest {
	return &dto.ActivateDeviceRequest{ProductID: productID, Email: email, HardwareID: hwid}
}

func TestActivateWithoutApprovedPurchase(t *testing.T) {
	f := newActivationFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990)

	_, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "nobody@example.com", "hw-1"), RequestMeta{})
	assert.ErrorIs(t, err, ierr.ErrNoLicense)

	entries := f.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, license.ActionActivate, entries[0].Action)
	assert.Equal(t, license.LogError, entries[0].Status)
}

func TestActivateUnknownProduct(t *testing.T) {
	f := newActivationFixture(t)

	_, err := f.svc.ActivateDevice(context.Background(), activateReq(42, "buyer@example.com", "hw-1"), RequestMeta{})
	assert.ErrorIs(t, err, ierr.ErrNotFound)

	entries := f.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, license.LogError, entries[0].Status)
	assert.Equal(t, "product not found", entries[0].Message)
}

func TestActivateBindsProvisionedSlot(t *testing.T) {
	f := newActivationFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990)
	f.seedApprovedPurchase(t, productID, "buyer@example.com", 1)

	resp, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", "hw-1"), RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.LicenseKey)
	assert.Equal(t, "CodeCraft IDE", resp.ProductName)

	bound, err := f.licenses.FindBound(context.Background(), productID, "buyer@example.com", "hw-1")
	require.NoError(t, err)
	assert.Equal(t, resp.LicenseKey, bound.LicenseKey)
	assert.True(t, bound.ActivatedAt.Valid)

	entries := f.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, license.LogSuccess, entries[0].Status)
	assert.Equal(t, "10.0.0.1", entries[0].IP.String)
}

func TestActivateReplayIsIdempotent(t *testing.T) {
	f := newActivationFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990)
	f.seedApprovedPurchase(t, productID, "buyer@example.com", 1)

	first, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", "hw-1"), RequestMeta{})
	require.NoError(t, err)

	second, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", "hw-1"), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, first.LicenseKey, second.LicenseKey)
	assert.Equal(t, "device already activated", second.Message)

	// Replay did not consume another slot.
	bound, err := f.licenses.CountBound(context.Background(), productID, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, bound)

	// Both attempts are in the audit trail.
	assert.Len(t, f.log.Entries(), 2)
}

func TestActivateDeviceQuota(t *testing.T) {
	f := newActivationFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990)
	f.seedApprovedPurchase(t, productID, "buyer@example.com", 1)

	for _, hw := range []string{"hw-1", "hw-2", "hw-3"} {
		_, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", hw), RequestMeta{})
		require.NoError(t, err)
	}

	_, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", "hw-4"), RequestMeta{})
	assert.ErrorIs(t, err, ierr.ErrQuotaExceeded)

	entries := f.log.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, license.LogError, entries[3].Status)
}

func TestActivateCreatesSlotWhenNoneMaterialized(t *testing.T) {
	f := newActivationFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990)

	// Approved purchase without any license rows (provisioning never ran).
	p := &purchase.Purchase{
		ID:         "PAY-" + uuid.NewString(),
		ProductID:  productID,
		Status:     purchase.StatusApproved,
		Quantity:   1,
		Currency:   "BRL",
		PayerEmail: "buyer@example.com",
	}
	require.NoError(t, f.purchases.Create(context.Background(), p))

	resp, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", "hw-1"), RequestMeta{})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.LicenseKey)

	bound, err := f.licenses.CountBound(context.Background(), productID, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, bound)
}

func TestActivateMultiSeatPurchase(t *testing.T) {
	f := newActivationFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE Free", 0)

	// One purchase of two seats materializes two unbound rows. The quota is
	// per approved purchase, so a third device still fits; a fourth does not.
	f.seedApprovedPurchase(t, productID, "buyer@example.com", 2)

	seats, err := f.licenses.CountByPurchase(context.Background(), findSinglePurchaseID(t, f, productID))
	require.NoError(t, err)
	assert.Equal(t, 2, seats)

	for _, hw := range []string{"hw-1", "hw-2", "hw-3"} {
		resp, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", hw), RequestMeta{})
		require.NoError(t, err, "device %s should activate", hw)
		assert.True(t, resp.Success)
	}

	_, err = f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", "hw-4"), RequestMeta{})
	assert.ErrorIs(t, err, ierr.ErrQuotaExceeded)
}

func findSinglePurchaseID(t *testing.T, f *activationFixture, productID int64) string {
	t.Helper()
	ps, err := f.purchases.FindByProductAndEmail(context.Background(), productID, "buyer@example.com")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	return ps[0].ID
}

func TestVerifyLicense(t *testing.T) {
	f := newActivationFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990)
	f.seedApprovedPurchase(t, productID, "buyer@example.com", 1)

	verifyReq := &dto.VerifyLicenseRequest{ProductID: productID, Email: "buyer@example.com", HardwareID: "hw-1"}

	resp, err := f.svc.VerifyLicense(context.Background(), verifyReq, RequestMeta{})
	require.NoError(t, err)
	assert.False(t, resp.Valid)

	activated, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", "hw-1"), RequestMeta{})
	require.NoError(t, err)

	resp, err = f.svc.VerifyLicense(context.Background(), verifyReq, RequestMeta{})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, activated.LicenseKey, resp.LicenseKey)
	require.NotNil(t, resp.ActivatedAt)

	// Two verify entries plus one activate entry, all logged.
	entries := f.log.Entries()
	assert.Len(t, entries, 3)
}

type brokenLookupLicenseRepo struct {
	*memstorage.LicenseRepository
}

func (r *brokenLookupLicenseRepo) FindBound(ctx context.Context, productID int64, email, hardwareID string) (*license.License, error) {
	return nil, errors.New("connection reset by peer")
}

func TestVerifyLogsAttemptOnLookupFailure(t *testing.T) {
	licenses := &brokenLookupLicenseRepo{LicenseRepository: memstorage.NewLicenseRepository()}
	activityLog := memstorage.NewActivationLogRepository()
	svc := NewActivationService(licenses, memstorage.NewPurchaseRepository(), memstorage.NewProductRepository(), activityLog, zap.NewNop())

	verifyReq := &dto.VerifyLicenseRequest{ProductID: 1, Email: "buyer@example.com", HardwareID: "hw-1"}
	_, err := svc.VerifyLicense(context.Background(), verifyReq, RequestMeta{})
	require.Error(t, err)

	// The failed attempt still lands in the audit trail.
	entries := activityLog.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, license.ActionVerify, entries[0].Action)
	assert.Equal(t, license.LogError, entries[0].Status)
}

func TestReleaseDeviceFreesSlot(t *testing.T) {
	f := newActivationFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990)
	f.seedApprovedPurchase(t, productID, "buyer@example.com", 1)

	for _, hw := range []string{"hw-1", "hw-2", "hw-3"} {
		_, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", hw), RequestMeta{})
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.ReleaseDevice(context.Background(), productID, "buyer@example.com", "hw-2"))

	// The freed slot is claimable by a new device.
	resp, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", "hw-9"), RequestMeta{})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	err = f.svc.ReleaseDevice(context.Background(), productID, "buyer@example.com", "hw-2")
	assert.ErrorIs(t, err, ierr.ErrNotFound)
}

func TestClaimByEmail(t *testing.T) {
	f := newActivationFixture(t)
	ideID := f.seedProduct(t, "CodeCraft IDE", 4990)
	toolsID := f.seedProduct(t, "CodeCraft Tools", 1990)
	f.seedApprovedPurchase(t, ideID, "buyer@example.com", 1)
	f.seedApprovedPurchase(t, toolsID, "buyer@example.com", 1)

	_, err := f.svc.ActivateDevice(context.Background(), activateReq(ideID, "buyer@example.com", "hw-1"), RequestMeta{})
	require.NoError(t, err)

	claimed, err := f.svc.ClaimByEmail(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	names := make(map[string]bool)
	for _, lic := range claimed {
		names[lic.ProductName] = true
		assert.NotEmpty(t, lic.LicenseKey)
	}
	assert.True(t, names["CodeCraft IDE"])
	assert.True(t, names["CodeCraft Tools"])
}

func TestActivationLogCarriesLicenseID(t *testing.T) {
	f := newActivationFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990)
	f.seedApprovedPurchase(t, productID, "buyer@example.com", 1)

	resp, err := f.svc.ActivateDevice(context.Background(), activateReq(productID, "buyer@example.com", "hw-1"), RequestMeta{})
	require.NoError(t, err)

	bound, err := f.licenses.FindBound(context.Background(), productID, "buyer@example.com", "hw-1")
	require.NoError(t, err)
	assert.Equal(t, resp.LicenseKey, bound.LicenseKey)

	entries := f.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, sql.NullInt64{Int64: bound.ID, Valid: true}, entries[0].LicenseID)
}
