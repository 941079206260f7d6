package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/storage/memstorage"
	"github.com/codecraft-store/entitlement-api/internal/tasks"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEnqueuer struct {
	mu      sync.Mutex
	tasks   []*asynq.Task
	failAll bool
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("redis unavailable")
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) typeCounts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, task := range f.tasks {
		counts[task.Type()]++
	}
	return counts
}

type provisioningFixture struct {
	svc       *ProvisioningService
	purchases *memstorage.PurchaseRepository
	licenses  *memstorage.LicenseRepository
	enqueuer  *fakeEnqueuer
}

func newProvisioningFixture(t *testing.T) *provisioningFixture {
	t.Helper()
	purchases := memstorage.NewPurchaseRepository()
	licenses := memstorage.NewLicenseRepository()
	enqueuer := &fakeEnqueuer{}
	return &provisioningFixture{
		svc:       NewProvisioningService(purchases, licenses, enqueuer, zap.NewNop()),
		purchases: purchases,
		licenses:  licenses,
		enqueuer:  enqueuer,
	}
}

func (f *provisioningFixture) seedPending(t *testing.T, quantity int, amount int64) *purchase.Purchase {
	t.Helper()
	p := &purchase.Purchase{
		ID:         "PAY-" + uuid.NewString(),
		ProductID:  1,
		Status:     purchase.StatusPending,
		Amount:     amount,
		Quantity:   quantity,
		Currency:   "BRL",
		PayerEmail: "buyer@example.com",
	}
	require.NoError(t, f.purchases.Create(context.Background(), p))
	return p
}

func TestApplyStatusNoopReplay(t *testing.T) {
	f := newProvisioningFixture(t)
	p := f.seedPending(t, 1, 4990)

	change, err := f.svc.ApplyProcessorStatus(context.Background(), p, "pending", nil)
	require.NoError(t, err)
	assert.False(t, change.Changed)
	assert.Equal(t, purchase.StatusPending, change.NewStatus)

	seats, err := f.licenses.CountByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Zero(t, seats)
}

func TestApplyStatusApprovalMaterializesSeats(t *testing.T) {
	f := newProvisioningFixture(t)
	p := f.seedPending(t, 3, 14970)

	raw := json.RawMessage(`{"id":123,"status":"approved"}`)
	change, err := f.svc.ApplyProcessorStatus(context.Background(), p, "approved", raw)
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.Equal(t, purchase.StatusPending, change.OldStatus)
	assert.Equal(t, purchase.StatusApproved, change.NewStatus)

	seats, err := f.licenses.CountByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, seats)

	// Every seat row got its own key and seat index.
	lics, err := f.licenses.FindByProductAndEmail(context.Background(), 1, "buyer@example.com")
	require.NoError(t, err)
	keys := make(map[string]bool)
	indexes := make(map[int]bool)
	for _, lic := range lics {
		keys[lic.LicenseKey] = true
		indexes[lic.SeatIndex] = true
		assert.False(t, lic.Bound())
	}
	assert.Len(t, keys, 3)
	assert.Len(t, indexes, 3)

	// Raw processor payload lands on the stored purchase.
	stored, err := f.purchases.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(stored.RawResponse))
}

func TestApplyStatusApprovalReplayDoesNotDuplicate(t *testing.T) {
	f := newProvisioningFixture(t)
	p := f.seedPending(t, 2, 9980)

	_, err := f.svc.ApplyProcessorStatus(context.Background(), p, "approved", nil)
	require.NoError(t, err)

	// Deliver approval again from a fresh copy of the row, as a late webhook
	// would after the direct charge path already settled it.
	stale, err := f.purchases.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	change, err := f.svc.ApplyProcessorStatus(context.Background(), stale, "approved", nil)
	require.NoError(t, err)
	assert.False(t, change.Changed)

	seats, err := f.licenses.CountByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, seats)
}

func TestApplyStatusRegressionGuard(t *testing.T) {
	f := newProvisioningFixture(t)
	p := f.seedPending(t, 1, 4990)

	_, err := f.svc.ApplyProcessorStatus(context.Background(), p, "approved", nil)
	require.NoError(t, err)

	// A stale pending delivery cannot unsettle an approved purchase.
	change, err := f.svc.ApplyProcessorStatus(context.Background(), p, "in_process", nil)
	require.NoError(t, err)
	assert.False(t, change.Changed)

	stored, err := f.purchases.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusApproved, stored.Status)

	// Refund is the one forward transition out of approved. Seats stay.
	change, err = f.svc.ApplyProcessorStatus(context.Background(), p, "charged_back", nil)
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.Equal(t, purchase.StatusRefunded, change.NewStatus)

	seats, err := f.licenses.CountByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, seats)
}

func TestApplyStatusUnknownNativeMapsToPending(t *testing.T) {
	f := newProvisioningFixture(t)
	p := f.seedPending(t, 1, 4990)

	change, err := f.svc.ApplyProcessorStatus(context.Background(), p, "some_new_vocab", nil)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusPending, change.NewStatus)
	assert.False(t, change.Changed)
}

func TestConcurrentApprovalProvisionsOnce(t *testing.T) {
	f := newProvisioningFixture(t)
	p := f.seedPending(t, 2, 9980)

	// The webhook and the direct charge response race: each holds its own
	// copy of the pending row and applies approval concurrently.
	copyA := *p
	copyB := *p

	var wg sync.WaitGroup
	wg.Add(2)
	for _, cp := range []*purchase.Purchase{&copyA, &copyB} {
		go func(pur *purchase.Purchase) {
			defer wg.Done()
			_, err := f.svc.ApplyProcessorStatus(context.Background(), pur, "approved", nil)
			assert.NoError(t, err)
		}(cp)
	}
	wg.Wait()

	seats, err := f.licenses.CountByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, seats, "racing provisioners must not duplicate seats")
}

func TestApprovalEnqueuesNotifications(t *testing.T) {
	f := newProvisioningFixture(t)
	p := f.seedPending(t, 1, 4990)

	_, err := f.svc.ApplyProcessorStatus(context.Background(), p, "approved", nil)
	require.NoError(t, err)

	counts := f.enqueuer.typeCounts()
	assert.Equal(t, 1, counts[tasks.TypeInvoiceGenerate])
	assert.Equal(t, 1, counts[tasks.TypeEmailConfirm])
}

func TestFreePurchaseSkipsInvoice(t *testing.T) {
	f := newProvisioningFixture(t)
	p := f.seedPending(t, 1, 0)

	_, err := f.svc.ApplyProcessorStatus(context.Background(), p, "approved", nil)
	require.NoError(t, err)

	counts := f.enqueuer.typeCounts()
	assert.Zero(t, counts[tasks.TypeInvoiceGenerate])
	assert.Equal(t, 1, counts[tasks.TypeEmailConfirm])
}

type flakyLicenseRepo struct {
	*memstorage.LicenseRepository
	failures int
}

func (r *flakyLicenseRepo) Create(ctx context.Context, lic *license.License) (int64, error) {
	if r.failures > 0 {
		r.failures--
		return 0, errors.New("connection reset by peer")
	}
	return r.LicenseRepository.Create(ctx, lic)
}

func TestMaterializationFailureAcksAndHealsOnRetry(t *testing.T) {
	purchases := memstorage.NewPurchaseRepository()
	licenses := &flakyLicenseRepo{LicenseRepository: memstorage.NewLicenseRepository(), failures: 1}
	svc := NewProvisioningService(purchases, licenses, &fakeEnqueuer{}, zap.NewNop())

	p := &purchase.Purchase{
		ID:         "PAY-" + uuid.NewString(),
		ProductID:  1,
		Status:     purchase.StatusPending,
		Amount:     4990,
		Quantity:   1,
		Currency:   "BRL",
		PayerEmail: "buyer@example.com",
	}
	require.NoError(t, purchases.Create(context.Background(), p))

	// The seat insert fails, but the delivery is still acknowledged and the
	// approved status sticks.
	change, err := svc.ApplyProcessorStatus(context.Background(), p, "approved", nil)
	require.NoError(t, err)
	assert.True(t, change.Changed)

	stored, err := purchases.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusApproved, stored.Status)

	seats, err := licenses.CountByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Zero(t, seats)

	// The processor redelivers the same approval; the replay materializes the
	// missing seat instead of stopping at the no-op guard.
	retry, err := svc.ApplyProcessorStatus(context.Background(), stored, "approved", nil)
	require.NoError(t, err)
	assert.False(t, retry.Changed)

	seats, err = licenses.CountByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, seats)
}

func TestEnqueueFailureDoesNotUnwindProvisioning(t *testing.T) {
	f := newProvisioningFixture(t)
	f.enqueuer.failAll = true
	p := f.seedPending(t, 1, 4990)

	change, err := f.svc.ApplyProcessorStatus(context.Background(), p, "approved", nil)
	require.NoError(t, err)
	assert.True(t, change.Changed)

	seats, err := f.licenses.CountByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, seats)

	stored, err := f.purchases.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusApproved, stored.Status)
}
