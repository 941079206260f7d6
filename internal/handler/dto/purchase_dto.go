package dto

import (
	"encoding/json"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
)

type CheckoutRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity" binding:"omitempty,gte=1,lte=10"`
}

type CheckoutResponse struct {
	PaymentID        string `json:"payment_id"`
	PreferenceID     string `json:"preference_id,omitempty"`
	Status           string `json:"status"`
	InitPoint        string `json:"init_point,omitempty"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
}

type DirectPaymentPayerIdentification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type DirectPaymentPayer struct {
	Email          string                            `json:"email" binding:"required,email"`
	FirstName      string                            `json:"first_name"`
	LastName       string                            `json:"last_name"`
	Identification *DirectPaymentPayerIdentification `json:"identification"`
}

type DirectPaymentRequest struct {
	PaymentMethodID string                 `json:"payment_method_id" binding:"required"`
	Token           string                 `json:"token"`
	Installments    int                    `json:"installments" binding:"omitempty,gte=1"`
	IssuerID        string                 `json:"issuer_id"`
	Description     string                 `json:"description"`
	Quantity        int                    `json:"quantity" binding:"omitempty,gte=1,lte=10"`
	Payer           DirectPaymentPayer     `json:"payer" binding:"required"`
	BinaryMode      bool                   `json:"binary_mode"`
	Capture         *bool                  `json:"capture"`
	Metadata        map[string]interface{} `json:"metadata"`
}

type DirectPaymentResponse struct {
	Success            bool   `json:"success"`
	PaymentID          string `json:"payment_id"`
	ProcessorPaymentID string `json:"mp_payment_id,omitempty"`
	Status             string `json:"status"`
	StatusDetail       string `json:"status_detail,omitempty"`
	LicenseKey         string `json:"license_key,omitempty"`
}

type PurchaseStatusResponse struct {
	Status      string `json:"status"`
	PaymentID   string `json:"payment_id,omitempty"`
	Email       string `json:"email,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

type WebhookAck struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Reason    string `json:"reason,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`
}

type SearchPurchasesRequest struct {
	ProductID *int64           `form:"product_id"`
	Status    *purchase.Status `form:"status" binding:"omitempty,oneof=pending approved rejected cancelled refunded"`
	Email     *string          `form:"email" binding:"omitempty"`
	FromDate  *time.Time       `form:"from_date" time_format:"2006-01-02"`
	ToDate    *time.Time       `form:"to_date" time_format:"2006-01-02"`
	Limit     int              `form:"limit,default=20" binding:"omitempty,gte=0"`
	Offset    int              `form:"offset,default=0" binding:"omitempty,gte=0"`
}

type PurchaseResponse struct {
	ID           string          `json:"id"`
	ProductID    int64           `json:"product_id"`
	UserID       *int64          `json:"user_id,omitempty"`
	ProcessorRef *string         `json:"processor_ref,omitempty"`
	Status       purchase.Status `json:"status"`
	Amount       int64           `json:"amount"`
	UnitPrice    int64           `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	Currency     string          `json:"currency"`
	PayerEmail   string          `json:"payer_email"`
	PayerName    *string         `json:"payer_name,omitempty"`
	RawResponse  json.RawMessage `json:"raw_response,omitempty" swaggertype:"object"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func NewPurchaseResponse(p *purchase.Purchase) *PurchaseResponse {
	resp := &PurchaseResponse{
		ID:          p.ID,
		ProductID:   p.ProductID,
		Status:      p.Status,
		Amount:      p.Amount,
		UnitPrice:   p.UnitPrice,
		Quantity:    p.Quantity,
		Currency:    p.Currency,
		PayerEmail:  p.PayerEmail,
		RawResponse: p.RawResponse,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.UserID.Valid {
		resp.UserID = &p.UserID.Int64
	}
	if p.ProcessorRef.Valid {
		resp.ProcessorRef = &p.ProcessorRef.String
	}
	if p.PayerName.Valid {
		resp.PayerName = &p.PayerName.String
	}
	return resp
}

type PaginatedPurchaseResponse struct {
	Purchases  []*PurchaseResponse `json:"purchases"`
	TotalCount int64               `json:"totalCount"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

type UpdatePurchaseStatusRequest struct {
	Status *purchase.Status `json:"status" binding:"required,oneof=pending approved rejected cancelled refunded"`
}

type MergeAccountsRequest struct {
	GuestID  int64 `json:"guest_id" binding:"required"`
	TargetID int64 `json:"target_id" binding:"required"`
}
