package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/config"
	"github.com/codecraft-store/entitlement-api/internal/domain/account"
	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/handler/dto"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/codecraft-store/entitlement-api/internal/metrics"
	"github.com/codecraft-store/entitlement-api/internal/processor/mercadopago"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PurchaseService struct {
	purchases   purchase.Repository
	products    product.Repository
	accounts    account.Repository
	licenses    license.Repository
	processor   mercadopago.Client
	provisioner *ProvisioningService
	mpCfg       *config.MercadoPagoConfig
	logger      *zap.Logger
}

func NewPurchaseService(
	purchases purchase.Repository,
	products product.Repository,
	accounts account.Repository,
	licenses license.Repository,
	processor mercadopago.Client,
	provisioner *ProvisioningService,
	mpCfg *config.MercadoPagoConfig,
	logger *zap.Logger,
) *PurchaseService {
	return &PurchaseService{
		purchases:   purchases,
		products:    products,
		accounts:    accounts,
		licenses:    licenses,
		processor:   processor,
		provisioner: provisioner,
		mpCfg:       mpCfg,
		logger:      logger.Named("PurchaseService"),
	}
}

// Checkout starts a purchase for a published product. Free products are
// approved and provisioned on the spot; paid products get a hosted-checkout
// preference whose outcome arrives later via webhook.
func (s *PurchaseService) Checkout(ctx context.Context, productID int64, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	prod, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if prod.Status != product.StatusPublished {
		return nil, fmt.Errorf("%w: product not available", ierr.ErrNotFound)
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}

	acc, err := s.ensureAccount(ctx, req.Email, req.Name)
	if err != nil {
		return nil, err
	}

	if prod.Price == 0 {
		return s.checkoutFree(ctx, prod, acc, req, quantity)
	}
	return s.checkoutPaid(ctx, prod, acc, req, quantity)
}

func (s *PurchaseService) checkoutFree(ctx context.Context, prod *product.Product, acc *account.Account, req *dto.CheckoutRequest, quantity int) (*dto.CheckoutResponse, error) {
	p := s.newPurchase("FREE-", prod, acc, req.Email, req.Name, quantity)
	if err := s.purchases.Create(ctx, p); err != nil {
		return nil, err
	}

	if _, err := s.provisioner.ApplyProcessorStatus(ctx, p, "approved", nil); err != nil {
		return nil, err
	}

	s.logger.Info("Free purchase approved and provisioned",
		zap.String("purchase_id", p.ID),
		zap.Int64("product_id", prod.ID),
	)
	return &dto.CheckoutResponse{
		PaymentID: p.ID,
		Status:    string(purchase.StatusApproved),
	}, nil
}

func (s *PurchaseService) checkoutPaid(ctx context.Context, prod *product.Product, acc *account.Account, req *dto.CheckoutRequest, quantity int) (*dto.CheckoutResponse, error) {
	if s.mpCfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: payment processor is not configured", ierr.ErrUpstreamUnavailable)
	}

	p := s.newPurchase("PAY-", prod, acc, req.Email, req.Name, quantity)
	if err := s.purchases.Create(ctx, p); err != nil {
		return nil, err
	}

	pref, err := s.processor.CreatePreference(ctx, &mercadopago.PreferenceRequest{
		Items: []mercadopago.PreferenceItem{{
			ID:          fmt.Sprintf("%d", prod.ID),
			Title:       prod.Name,
			Description: prod.ShortDescription.String,
			Quantity:    quantity,
			CurrencyID:  p.Currency,
			UnitPrice:   float64(prod.Price) / 100,
		}},
		Payer: mercadopago.PreferencePayer{Email: req.Email, Name: req.Name},
		BackURLs: mercadopago.PreferenceBackURLs{
			Success: s.mpCfg.SuccessURL,
			Failure: s.mpCfg.FailureURL,
			Pending: s.mpCfg.PendingURL,
		},
		AutoReturn:        "approved",
		ExternalReference: p.ID,
		NotificationURL:   s.mpCfg.WebhookURL,
	})
	if err != nil {
		s.logger.Error("Failed to create checkout preference", zap.String("purchase_id", p.ID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Checkout preference created",
		zap.String("purchase_id", p.ID),
		zap.String("preference_id", pref.ID),
	)
	return &dto.CheckoutResponse{
		PaymentID:        p.ID,
		PreferenceID:     pref.ID,
		Status:           string(purchase.StatusPending),
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
	}, nil
}

// DirectCharge charges a tokenized card synchronously. The charge response
// flows through the same coordinator as webhook deliveries, so whichever
// completion path lands first does the provisioning and the other is a no-op.
func (s *PurchaseService) DirectCharge(ctx context.Context, productID int64, req *dto.DirectPaymentRequest) (*dto.DirectPaymentResponse, error) {
	prod, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if prod.Status != product.StatusPublished {
		return nil, fmt.Errorf("%w: product not available", ierr.ErrNotFound)
	}
	if prod.Price == 0 {
		return nil, fmt.Errorf("%w: free products are acquired through checkout", ierr.ErrValidation)
	}
	if s.mpCfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: payment processor is not configured", ierr.ErrUpstreamUnavailable)
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	payerName := joinName(req.Payer.FirstName, req.Payer.LastName)

	acc, err := s.ensureAccount(ctx, req.Payer.Email, payerName)
	if err != nil {
		return nil, err
	}

	p := s.newPurchase("DIRECT-", prod, acc, req.Payer.Email, payerName, quantity)
	if err := s.purchases.Create(ctx, p); err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = prod.Name
	}
	capture := true
	if req.Capture != nil {
		capture = *req.Capture
	}
	paymentReq := &mercadopago.PaymentRequest{
		Description:       description,
		ExternalReference: p.ID,
		TransactionAmount: float64(p.Amount) / 100,
		PaymentMethodID:   req.PaymentMethodID,
		Installments:      req.Installments,
		IssuerID:          req.IssuerID,
		Token:             req.Token,
		Payer: mercadopago.PaymentPayer{
			Email:     req.Payer.Email,
			FirstName: req.Payer.FirstName,
			LastName:  req.Payer.LastName,
		},
		BinaryMode:      req.BinaryMode,
		Capture:         capture,
		Metadata:        req.Metadata,
		NotificationURL: s.mpCfg.WebhookURL,
	}
	if req.Payer.Identification != nil {
		paymentReq.Payer.Identification = &mercadopago.PaymentPayerIdentification{
			Type:   req.Payer.Identification.Type,
			Number: req.Payer.Identification.Number,
		}
	}
	if paymentReq.Installments == 0 {
		paymentReq.Installments = 1
	}

	// The purchase id doubles as the idempotency key, so a retried request
	// cannot charge the card twice.
	payment, err := s.processor.CreatePayment(ctx, paymentReq, p.ID)
	if err != nil {
		s.logger.Error("Direct charge failed at processor", zap.String("purchase_id", p.ID), zap.Error(err))
		return nil, err
	}

	if err := s.purchases.SetProcessorRef(ctx, p.ID, payment.ID.String()); err != nil {
		s.logger.Error("Failed to record processor payment id", zap.String("purchase_id", p.ID), zap.Error(err))
	} else {
		p.ProcessorRef = sql.NullString{String: payment.ID.String(), Valid: true}
	}

	change, err := s.provisioner.ApplyProcessorStatus(ctx, p, payment.Status, payment.Raw)
	if err != nil {
		return nil, err
	}

	resp := &dto.DirectPaymentResponse{
		Success:            change.NewStatus == purchase.StatusApproved,
		PaymentID:          p.ID,
		ProcessorPaymentID: payment.ID.String(),
		Status:             string(change.NewStatus),
		StatusDetail:       payment.StatusDetail,
	}
	if change.NewStatus == purchase.StatusApproved {
		resp.LicenseKey = s.firstLicenseKey(ctx, p)
	}
	return resp, nil
}

// HandleWebhook processes an authenticated processor notification. Unknown
// types and unknown purchases are acknowledged without processing so the
// processor stops retrying.
func (s *PurchaseService) HandleWebhook(ctx context.Context, notificationType, dataID string) (*dto.WebhookAck, error) {
	if notificationType != "payment" {
		s.logger.Debug("Ignoring webhook of non-payment type", zap.String("type", notificationType))
		metrics.WebhookDeliveries.WithLabelValues("ignored").Inc()
		return &dto.WebhookAck{Received: true, Reason: "unsupported notification type"}, nil
	}

	payment, err := s.processor.GetPayment(ctx, dataID)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("processor_error").Inc()
		return nil, err
	}

	p, err := s.purchases.FindByID(ctx, payment.ExternalReference)
	if err != nil {
		if !errors.Is(err, ierr.ErrNotFound) {
			return nil, err
		}
		p, err = s.purchases.FindByProcessorRef(ctx, dataID)
		if err != nil {
			if errors.Is(err, ierr.ErrNotFound) {
				s.logger.Warn("Webhook references unknown purchase",
					zap.String("payment_id", dataID),
					zap.String("external_reference", payment.ExternalReference),
				)
				metrics.WebhookDeliveries.WithLabelValues("unknown_purchase").Inc()
				return &dto.WebhookAck{Received: true, Reason: "purchase not found"}, nil
			}
			return nil, err
		}
	}

	if !p.ProcessorRef.Valid || p.ProcessorRef.String == "" {
		if err := s.purchases.SetProcessorRef(ctx, p.ID, dataID); err != nil {
			s.logger.Error("Failed to record processor payment id from webhook", zap.String("purchase_id", p.ID), zap.Error(err))
		} else {
			p.ProcessorRef = sql.NullString{String: dataID, Valid: true}
		}
	}

	change, err := s.provisioner.ApplyProcessorStatus(ctx, p, payment.Status, payment.Raw)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return nil, err
	}

	if change.Changed {
		metrics.WebhookDeliveries.WithLabelValues("processed").Inc()
	} else {
		metrics.WebhookDeliveries.WithLabelValues("noop").Inc()
	}
	return &dto.WebhookAck{
		Received:  true,
		Processed: change.Changed,
		PaymentID: p.ID,
		OldStatus: string(change.OldStatus),
		NewStatus: string(change.NewStatus),
	}, nil
}

// GetPurchaseStatus is the buyer-facing poll endpoint backing the checkout
// return pages.
func (s *PurchaseService) GetPurchaseStatus(ctx context.Context, id string) (*dto.PurchaseStatusResponse, error) {
	p, err := s.purchases.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &dto.PurchaseStatusResponse{
		Status:    string(p.Status),
		PaymentID: p.ID,
		Email:     p.PayerEmail,
	}
	if p.Status == purchase.StatusApproved {
		if prod, err := s.products.FindByID(ctx, p.ProductID); err == nil && prod.DownloadURL.Valid {
			resp.DownloadURL = prod.DownloadURL.String
			if err := s.products.IncrementDownloadCount(ctx, prod.ID); err != nil {
				s.logger.Warn("Failed to count download",
					zap.Int64("product_id", prod.ID),
					zap.Error(err),
				)
			}
		}
	}
	return resp, nil
}

func (s *PurchaseService) GetByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	return s.purchases.FindByID(ctx, id)
}

func (s *PurchaseService) Search(ctx context.Context, params purchase.SearchParams) ([]*purchase.Purchase, int64, error) {
	return s.purchases.Search(ctx, params)
}

// UpdateStatus is the administrative override. It goes through the same
// coordinator as processor deliveries, so a manual approval provisions seats
// and the regression guard still applies.
func (s *PurchaseService) UpdateStatus(ctx context.Context, id string, status purchase.Status) (*purchase.StatusChange, error) {
	p, err := s.purchases.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.provisioner.ApplyProcessorStatus(ctx, p, string(status), nil)
}

// PurgeByIDPrefix removes synthetic purchases created by integration tests.
func (s *PurchaseService) PurgeByIDPrefix(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("%w: purge prefix must not be empty", ierr.ErrValidation)
	}
	return s.purchases.DeleteByIDPrefix(ctx, prefix)
}

func (s *PurchaseService) newPurchase(idPrefix string, prod *product.Product, acc *account.Account, email, name string, quantity int) *purchase.Purchase {
	p := &purchase.Purchase{
		ID:         idPrefix + uuid.NewString(),
		ProductID:  prod.ID,
		Status:     purchase.StatusPending,
		Amount:     prod.Price * int64(quantity),
		UnitPrice:  prod.Price,
		Quantity:   quantity,
		Currency:   "BRL",
		PayerEmail: email,
	}
	if acc != nil {
		p.UserID = sql.NullInt64{Int64: acc.ID, Valid: true}
	}
	if name != "" {
		p.PayerName = sql.NullString{String: name, Valid: true}
	}
	return p
}

func (s *PurchaseService) ensureAccount(ctx context.Context, email, name string) (*account.Account, error) {
	acc, err := s.accounts.FindByEmail(ctx, email)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ierr.ErrNotFound) {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	guest := &account.Account{Email: email, Name: name, IsGuest: true}
	id, err := s.accounts.Create(ctx, guest)
	if err != nil {
		return nil, fmt.Errorf("creating guest account: %w", err)
	}
	guest.ID = id
	s.logger.Info("Guest account created for payer", zap.Int64("account_id", id))
	return guest, nil
}

func (s *PurchaseService) firstLicenseKey(ctx context.Context, p *purchase.Purchase) string {
	lics, err := s.licenses.FindByProductAndEmail(ctx, p.ProductID, p.PayerEmail)
	if err != nil {
		return ""
	}
	for _, lic := range lics {
		if lic.PurchaseID.Valid && lic.PurchaseID.String == p.ID {
			return lic.LicenseKey
		}
	}
	return ""
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
