package ierr

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource conflict")
	ErrInternalServer = errors.New("internal server error")

	// ErrNoLicense: the payer has no approved purchase for the product.
	ErrNoLicense = errors.New("no license for this product")
	// ErrQuotaExceeded: the device ceiling for the payer's approved purchases
	// has been reached.
	ErrQuotaExceeded = errors.New("device limit reached")
	// ErrUnauthenticated: webhook delivery with a missing or invalid
	// processor signature.
	ErrUnauthenticated = errors.New("signature missing or invalid")
	// ErrUpstreamUnavailable: the payment processor API could not be reached.
	ErrUpstreamUnavailable = errors.New("payment processor unavailable")

	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAPIKeyNotFound     = errors.New("api key not found or disabled")
)
