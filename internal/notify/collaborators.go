package notify

import (
	"context"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"go.uber.org/zap"
)

// LogInvoiceGenerator stands in for the external tax-document service. It
// records the request so approval flows stay observable in deployments where
// the real generator is not wired.
type LogInvoiceGenerator struct {
	logger *zap.Logger
}

var _ InvoiceGenerator = (*LogInvoiceGenerator)(nil)

func NewLogInvoiceGenerator(logger *zap.Logger) *LogInvoiceGenerator {
	return &LogInvoiceGenerator{logger: logger.Named("InvoiceGenerator")}
}

func (g *LogInvoiceGenerator) Generate(ctx context.Context, req *InvoiceRequest) error {
	g.logger.Info("Invoice generation requested",
		zap.String("purchase_id", req.PurchaseID),
		zap.Int64("product_id", req.ProductID),
		zap.Int64("amount", req.Amount),
		zap.String("payer_email", req.PayerEmail),
	)
	return nil
}

// LogEmailNotifier is the matching stand-in for the confirmation mailer.
type LogEmailNotifier struct {
	logger *zap.Logger
}

var _ EmailNotifier = (*LogEmailNotifier)(nil)

func NewLogEmailNotifier(logger *zap.Logger) *LogEmailNotifier {
	return &LogEmailNotifier{logger: logger.Named("EmailNotifier")}
}

func (n *LogEmailNotifier) Send(ctx context.Context, req *EmailRequest) error {
	n.logger.Info("Purchase confirmation email requested",
		zap.String("recipient", req.Recipient),
		zap.String("purchase_id", req.PurchaseID),
		zap.String("product", req.ProductName),
	)
	return nil
}

// ProductArtifactResolver resolves download references from the product
// catalog.
type ProductArtifactResolver struct {
	products product.Repository
}

var _ ArtifactResolver = (*ProductArtifactResolver)(nil)

func NewProductArtifactResolver(products product.Repository) *ProductArtifactResolver {
	return &ProductArtifactResolver{products: products}
}

func (r *ProductArtifactResolver) DownloadURL(ctx context.Context, productID int64) (string, error) {
	p, err := r.products.FindByID(ctx, productID)
	if err != nil {
		return "", err
	}
	if !p.DownloadURL.Valid || p.DownloadURL.String == "" {
		return "", fmt.Errorf("%w: no download available for this product", ierr.ErrNotFound)
	}
	return p.DownloadURL.String, nil
}
