package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/codecraft-store/entitlement-api/internal/config"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"go.uber.org/zap"
)

// Client is the injected processor surface the coordinator and purchase
// service depend on. The HTTP implementation is constructed once at process
// start; tests substitute a fake.
type Client interface {
	CreatePreference(ctx context.Context, req *PreferenceRequest) (*PreferenceResponse, error)
	CreatePayment(ctx context.Context, req *PaymentRequest, idempotencyKey string) (*PaymentResponse, error)
	GetPayment(ctx context.Context, id string) (*PaymentResponse, error)
}

type PreferenceItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
	CurrencyID  string `json:"currency_id"`
	UnitPrice   float64 `json:"unit_price"`
}

type PreferencePayer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type PreferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type PreferenceRequest struct {
	Items             []PreferenceItem   `json:"items"`
	Payer             PreferencePayer    `json:"payer"`
	BackURLs          PreferenceBackURLs `json:"back_urls"`
	AutoReturn        string             `json:"auto_return,omitempty"`
	ExternalReference string             `json:"external_reference"`
	NotificationURL   string             `json:"notification_url,omitempty"`
}

type PreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`

	Raw json.RawMessage `json:"-"`
}

type PaymentPayerIdentification struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number,omitempty"`
}

type PaymentPayer struct {
	Email          string                      `json:"email"`
	FirstName      string                      `json:"first_name,omitempty"`
	LastName       string                      `json:"last_name,omitempty"`
	Identification *PaymentPayerIdentification `json:"identification,omitempty"`
}

type PaymentRequest struct {
	Description       string                 `json:"description,omitempty"`
	ExternalReference string                 `json:"external_reference"`
	TransactionAmount float64                `json:"transaction_amount"`
	PaymentMethodID   string                 `json:"payment_method_id"`
	Installments      int                    `json:"installments,omitempty"`
	IssuerID          string                 `json:"issuer_id,omitempty"`
	Token             string                 `json:"token,omitempty"`
	Payer             PaymentPayer           `json:"payer"`
	AdditionalInfo    map[string]interface{} `json:"additional_info,omitempty"`
	BinaryMode        bool                   `json:"binary_mode"`
	ProcessingMode    string                 `json:"processing_mode,omitempty"`
	Capture           bool                   `json:"capture"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	NotificationURL   string                 `json:"notification_url,omitempty"`
}

type PaymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	CurrencyID        string      `json:"currency_id"`

	// Raw is the unparsed processor payload, stored on the purchase for audit.
	Raw json.RawMessage `json:"-"`
}

type HTTPClient struct {
	baseURL        string
	accessToken    string
	processingMode string
	httpClient     *http.Client
	logger         *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg *config.MercadoPagoConfig, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:        cfg.BaseURL,
		accessToken:    cfg.AccessToken,
		processingMode: cfg.ProcessingMode,
		httpClient:     &http.Client{Timeout: cfg.RequestTimeout},
		logger:         logger.Named("MercadoPagoClient"),
	}
}

// Configured reports whether an access token is present. Without one the
// checkout and direct-charge paths refuse paid purchases.
func (c *HTTPClient) Configured() bool {
	return c.accessToken != ""
}

func (c *HTTPClient) CreatePreference(ctx context.Context, req *PreferenceRequest) (*PreferenceResponse, error) {
	var resp PreferenceResponse
	raw, err := c.do(ctx, http.MethodPost, "/checkout/preferences", req, nil, &resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	return &resp, nil
}

func (c *HTTPClient) CreatePayment(ctx context.Context, req *PaymentRequest, idempotencyKey string) (*PaymentResponse, error) {
	headers := map[string]string{"X-Idempotency-Key": idempotencyKey}
	var resp PaymentResponse
	raw, err := c.do(ctx, http.MethodPost, "/v1/payments", req, headers, &resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	return &resp, nil
}

func (c *HTTPClient) GetPayment(ctx context.Context, id string) (*PaymentResponse, error) {
	var resp PaymentResponse
	raw, err := c.do(ctx, http.MethodGet, "/v1/payments/"+id, nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	return &resp, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode processor request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build processor request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("Processor request failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ierr.ErrUpstreamUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ierr.ErrUpstreamUnavailable, err)
	}

	if httpResp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		c.logger.Warn("Processor returned error status",
			zap.String("path", path),
			zap.Int("status", httpResp.StatusCode),
			zap.String("message", apiErr.Message),
		)
		if apiErr.Message == "" {
			apiErr.Message = "payment could not be processed"
		}
		return nil, fmt.Errorf("%w: %s", ierr.ErrValidation, apiErr.Message)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("failed to decode processor response: %w", err)
		}
	}
	return raw, nil
}
