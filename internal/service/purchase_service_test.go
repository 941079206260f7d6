package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/codecraft-store/entitlement-api/internal/config"
	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/handler/dto"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/codecraft-store/entitlement-api/internal/processor/mercadopago"
	"github.com/codecraft-store/entitlement-api/internal/storage/memstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProcessor struct {
	mu sync.Mutex

	preferences []*mercadopago.PreferenceRequest

	paymentStatus string
	paymentDetail string
	lastPayment   *mercadopago.PaymentRequest
	lastIdemKey   string
	payments      map[string]*mercadopago.PaymentResponse
	getPaymentErr error
	nextPaymentID int64
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		paymentStatus: "approved",
		payments:      make(map[string]*mercadopago.PaymentResponse),
		nextPaymentID: 1000,
	}
}

var _ mercadopago.Client = (*fakeProcessor)(nil)

func (f *fakeProcessor) CreatePreference(ctx context.Context, req *mercadopago.PreferenceRequest) (*mercadopago.PreferenceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preferences = append(f.preferences, req)
	return &mercadopago.PreferenceResponse{
		ID:               "pref-1",
		InitPoint:        "https://mp.example/init",
		SandboxInitPoint: "https://mp.example/sandbox",
	}, nil
}

func (f *fakeProcessor) CreatePayment(ctx context.Context, req *mercadopago.PaymentRequest, idempotencyKey string) (*mercadopago.PaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPayment = req
	f.lastIdemKey = idempotencyKey
	f.nextPaymentID++
	resp := &mercadopago.PaymentResponse{
		ID:                json.Number(strconv.FormatInt(f.nextPaymentID, 10)),
		Status:            f.paymentStatus,
		StatusDetail:      f.paymentDetail,
		ExternalReference: req.ExternalReference,
		Raw:               json.RawMessage(`{"status":"` + f.paymentStatus + `"}`),
	}
	f.payments[resp.ID.String()] = resp
	return resp, nil
}

func (f *fakeProcessor) GetPayment(ctx context.Context, id string) (*mercadopago.PaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getPaymentErr != nil {
		return nil, f.getPaymentErr
	}
	if resp, ok := f.payments[id]; ok {
		return resp, nil
	}
	return &mercadopago.PaymentResponse{
		ID:     json.Number(id),
		Status: f.paymentStatus,
		Raw:    json.RawMessage(`{"status":"` + f.paymentStatus + `"}`),
	}, nil
}

func (f *fakeProcessor) registerPayment(id, status, externalRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[id] = &mercadopago.PaymentResponse{
		ID:                json.Number(id),
		Status:            status,
		ExternalReference: externalRef,
		Raw:               json.RawMessage(`{"status":"` + status + `"}`),
	}
}

type purchaseFixture struct {
	svc       *PurchaseService
	processor *fakeProcessor
	purchases *memstorage.PurchaseRepository
	licenses  *memstorage.LicenseRepository
	products  *memstorage.ProductRepository
	accounts  *memstorage.AccountRepository
}

func newPurchaseFixture(t *testing.T) *purchaseFixture {
	t.Helper()

	purchases := memstorage.NewPurchaseRepository()
	licenses := memstorage.NewLicenseRepository()
	products := memstorage.NewProductRepository()
	accounts := memstorage.NewAccountRepository(purchases, licenses)
	processor := newFakeProcessor()

	logger := zap.NewNop()
	provisioner := NewProvisioningService(purchases, licenses, nil, logger)
	mpCfg := &config.MercadoPagoConfig{
		AccessToken: "TEST-token",
		SuccessURL:  "https://store.example/ok",
		FailureURL:  "https://store.example/fail",
		PendingURL:  "https://store.example/pending",
		WebhookURL:  "https://api.example/webhooks/mercadopago",
	}
	return &purchaseFixture{
		svc:       NewPurchaseService(purchases, products, accounts, licenses, processor, provisioner, mpCfg, logger),
		processor: processor,
		purchases: purchases,
		licenses:  licenses,
		products:  products,
		accounts:  accounts,
	}
}

func (f *purchaseFixture) seedProduct(t *testing.T, name string, price int64, status product.Status) int64 {
	t.Helper()
	id, err := f.products.Create(context.Background(), &product.Product{
		Name:   name,
		Price:  price,
		Status: status,
	})
	require.NoError(t, err)
	return id
}

func TestCheckoutFreeProduct(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "CodeCraft Lite", 0, product.StatusPublished)

	resp, err := f.svc.Checkout(context.Background(), productID, &dto.CheckoutRequest{
		Email:    "buyer@example.com",
		Name:     "Ana Buyer",
		Quantity: 2,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.PaymentID, "FREE-"))
	assert.Equal(t, "approved", resp.Status)
	assert.Empty(t, resp.InitPoint)

	// Approved on the spot: seats exist, no processor round-trip.
	seats, err := f.licenses.CountByPurchase(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 2, seats)
	assert.Empty(t, f.processor.preferences)

	// A guest account was created for the payer.
	acc, err := f.accounts.FindByEmail(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	assert.True(t, acc.IsGuest)
	assert.Equal(t, "Ana Buyer", acc.Name)
}

func TestCheckoutPaidProductCreatesPreference(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990, product.StatusPublished)

	resp, err := f.svc.Checkout(context.Background(), productID, &dto.CheckoutRequest{Email: "buyer@example.com"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.PaymentID, "PAY-"))
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "pref-1", resp.PreferenceID)
	assert.Equal(t, "https://mp.example/init", resp.InitPoint)

	require.Len(t, f.processor.preferences, 1)
	pref := f.processor.preferences[0]
	assert.Equal(t, resp.PaymentID, pref.ExternalReference)
	require.Len(t, pref.Items, 1)
	assert.InDelta(t, 49.90, pref.Items[0].UnitPrice, 0.001)

	// Purchase stays pending until the processor settles it.
	stored, err := f.purchases.FindByID(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusPending, stored.Status)
	seats, err := f.licenses.CountByPurchase(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Zero(t, seats)
}

func TestCheckoutUnpublishedProduct(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "Unreleased", 4990, product.StatusDraft)

	_, err := f.svc.Checkout(context.Background(), productID, &dto.CheckoutRequest{Email: "buyer@example.com"})
	assert.ErrorIs(t, err, ierr.ErrNotFound)
}

func TestDirectChargeApproved(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990, product.StatusPublished)

	resp, err := f.svc.DirectCharge(context.Background(), productID, &dto.DirectPaymentRequest{
		PaymentMethodID: "visa",
		Token:           "card-token",
		Payer:           dto.DirectPaymentPayer{Email: "buyer@example.com", FirstName: "Ana", LastName: "Buyer"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.PaymentID, "DIRECT-"))
	assert.Equal(t, "approved", resp.Status)
	assert.NotEmpty(t, resp.LicenseKey)

	// The purchase id was used as the idempotency key and external reference.
	assert.Equal(t, resp.PaymentID, f.processor.lastIdemKey)
	assert.Equal(t, resp.PaymentID, f.processor.lastPayment.ExternalReference)
	assert.InDelta(t, 49.90, f.processor.lastPayment.TransactionAmount, 0.001)

	stored, err := f.purchases.FindByID(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusApproved, stored.Status)
	assert.True(t, stored.ProcessorRef.Valid)

	seats, err := f.licenses.CountByPurchase(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 1, seats)
}

func TestDirectChargeRejected(t *testing.T) {
	f := newPurchaseFixture(t)
	f.processor.paymentStatus = "rejected"
	f.processor.paymentDetail = "cc_rejected_insufficient_amount"
	productID := f.seedProduct(t, "CodeCraft IDE", 4990, product.StatusPublished)

	resp, err := f.svc.DirectCharge(context.Background(), productID, &dto.DirectPaymentRequest{
		PaymentMethodID: "visa",
		Payer:           dto.DirectPaymentPayer{Email: "buyer@example.com"},
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "rejected", resp.Status)
	assert.Equal(t, "cc_rejected_insufficient_amount", resp.StatusDetail)
	assert.Empty(t, resp.LicenseKey)

	seats, err := f.licenses.CountByPurchase(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Zero(t, seats)
}

func TestDirectChargeFreeProductRefused(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "CodeCraft Lite", 0, product.StatusPublished)

	_, err := f.svc.DirectCharge(context.Background(), productID, &dto.DirectPaymentRequest{
		PaymentMethodID: "visa",
		Payer:           dto.DirectPaymentPayer{Email: "buyer@example.com"},
	})
	assert.ErrorIs(t, err, ierr.ErrValidation)
}

func TestHandleWebhookApprovesPendingPurchase(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990, product.StatusPublished)

	checkout, err := f.svc.Checkout(context.Background(), productID, &dto.CheckoutRequest{Email: "buyer@example.com"})
	require.NoError(t, err)

	f.processor.registerPayment("777", "approved", checkout.PaymentID)

	ack, err := f.svc.HandleWebhook(context.Background(), "payment", "777")
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.True(t, ack.Processed)
	assert.Equal(t, "pending", ack.OldStatus)
	assert.Equal(t, "approved", ack.NewStatus)

	stored, err := f.purchases.FindByID(context.Background(), checkout.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusApproved, stored.Status)
	assert.Equal(t, "777", stored.ProcessorRef.String)

	seats, err := f.licenses.CountByPurchase(context.Background(), checkout.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 1, seats)
}

func TestHandleWebhookReplayIsNoop(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990, product.StatusPublished)

	checkout, err := f.svc.Checkout(context.Background(), productID, &dto.CheckoutRequest{Email: "buyer@example.com"})
	require.NoError(t, err)
	f.processor.registerPayment("777", "approved", checkout.PaymentID)

	_, err = f.svc.HandleWebhook(context.Background(), "payment", "777")
	require.NoError(t, err)

	ack, err := f.svc.HandleWebhook(context.Background(), "payment", "777")
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.False(t, ack.Processed)

	seats, err := f.licenses.CountByPurchase(context.Background(), checkout.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 1, seats)
}

func TestHandleWebhookUnknownPurchase(t *testing.T) {
	f := newPurchaseFixture(t)
	f.processor.registerPayment("404404", "approved", "PAY-nonexistent")

	ack, err := f.svc.HandleWebhook(context.Background(), "payment", "404404")
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.False(t, ack.Processed)
	assert.Equal(t, "purchase not found", ack.Reason)
}

func TestHandleWebhookIgnoresOtherTypes(t *testing.T) {
	f := newPurchaseFixture(t)

	ack, err := f.svc.HandleWebhook(context.Background(), "merchant_order", "1")
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.False(t, ack.Processed)
}

func TestHandleWebhookFindsByProcessorRef(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990, product.StatusPublished)

	checkout, err := f.svc.Checkout(context.Background(), productID, &dto.CheckoutRequest{Email: "buyer@example.com"})
	require.NoError(t, err)
	require.NoError(t, f.purchases.SetProcessorRef(context.Background(), checkout.PaymentID, "888"))

	// Payment payload without an external reference still resolves through
	// the stored processor ref.
	f.processor.registerPayment("888", "approved", "")

	ack, err := f.svc.HandleWebhook(context.Background(), "payment", "888")
	require.NoError(t, err)
	assert.True(t, ack.Processed)
}

func TestAdminUpdateStatusRegressionRefused(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "CodeCraft IDE", 4990, product.StatusPublished)

	resp, err := f.svc.DirectCharge(context.Background(), productID, &dto.DirectPaymentRequest{
		PaymentMethodID: "visa",
		Payer:           dto.DirectPaymentPayer{Email: "buyer@example.com"},
	})
	require.NoError(t, err)

	change, err := f.svc.UpdateStatus(context.Background(), resp.PaymentID, purchase.StatusPending)
	require.NoError(t, err)
	assert.False(t, change.Changed)

	change, err = f.svc.UpdateStatus(context.Background(), resp.PaymentID, purchase.StatusRefunded)
	require.NoError(t, err)
	assert.True(t, change.Changed)
}

func TestGetPurchaseStatusIncludesDownloadWhenApproved(t *testing.T) {
	f := newPurchaseFixture(t)
	productID, err := f.products.Create(context.Background(), &product.Product{
		Name:        "CodeCraft Lite",
		Price:       0,
		Status:      product.StatusPublished,
		DownloadURL: sql.NullString{String: "https://cdn.example/lite.zip", Valid: true},
	})
	require.NoError(t, err)

	checkout, err := f.svc.Checkout(context.Background(), productID, &dto.CheckoutRequest{Email: "buyer@example.com"})
	require.NoError(t, err)

	status, err := f.svc.GetPurchaseStatus(context.Background(), checkout.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "approved", status.Status)
	assert.Equal(t, "buyer@example.com", status.Email)
	assert.Equal(t, "https://cdn.example/lite.zip", status.DownloadURL)

	// Handing out the download URL counts as a download.
	_, err = f.svc.GetPurchaseStatus(context.Background(), checkout.PaymentID)
	require.NoError(t, err)
	prod, err := f.products.FindByID(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), prod.DownloadCount)
}

func TestPurgeByIDPrefix(t *testing.T) {
	f := newPurchaseFixture(t)
	productID := f.seedProduct(t, "CodeCraft Lite", 0, product.StatusPublished)

	_, err := f.svc.Checkout(context.Background(), productID, &dto.CheckoutRequest{Email: "buyer@example.com"})
	require.NoError(t, err)

	deleted, err := f.svc.PurgeByIDPrefix(context.Background(), "FREE-")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = f.svc.PurgeByIDPrefix(context.Background(), "")
	assert.ErrorIs(t, err, ierr.ErrValidation)
}
