package notify

import "context"

// InvoiceRequest is the payload handed to the downstream tax-document
// generator once a paid purchase is approved.
type InvoiceRequest struct {
	PurchaseID    string
	ProductID     int64
	ProductName   string
	Amount        int64
	PayerEmail    string
	PayerName     string
	PayerDocument string
}

// EmailRequest is the purchase-confirmation payload for the email notifier.
type EmailRequest struct {
	Recipient         string
	ProductName       string
	ProductVersion    string
	PurchaseID        string
	Amount            int64
	DownloadReference string
	LicenseKey        string
}

// InvoiceGenerator and EmailNotifier are fire-and-forget collaborators:
// failures are logged by the caller and never roll back provisioning.
type InvoiceGenerator interface {
	Generate(ctx context.Context, req *InvoiceRequest) error
}

type EmailNotifier interface {
	Send(ctx context.Context, req *EmailRequest) error
}

// ArtifactResolver answers where an approved buyer downloads the product.
type ArtifactResolver interface {
	DownloadURL(ctx context.Context, productID int64) (string, error)
}
