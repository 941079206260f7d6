package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"go.uber.org/zap"
)

// Authenticator gates processor-originated webhook deliveries. The processor
// signs each callback with an x-signature header of the form "ts=...,v1=...":
// v1 is HMAC-SHA256(secret, "id:{dataId};request-id:{requestId};ts:{ts};")
// hex-encoded. An empty secret disables verification entirely; that mode is
// announced loudly at construction time, never silently.
type Authenticator struct {
	secret string
	logger *zap.Logger
}

func NewAuthenticator(secret string, logger *zap.Logger) *Authenticator {
	log := logger.Named("WebhookAuthenticator")
	if secret == "" {
		log.Warn("Webhook secret is not configured - incoming webhooks will be accepted WITHOUT signature verification")
	}
	return &Authenticator{secret: secret, logger: log}
}

// Authenticate validates the signature header against the delivery's data id
// and request id. A nil return means the delivery may drive state
// transitions.
func (a *Authenticator) Authenticate(signatureHeader, requestID, dataID string) error {
	if a.secret == "" {
		a.logger.Warn("Accepting webhook without signature verification (no secret configured)")
		return nil
	}

	if signatureHeader == "" || requestID == "" {
		a.logger.Warn("Webhook rejected: signature or request id header missing")
		return fmt.Errorf("%w: missing signature headers", ierr.ErrUnauthenticated)
	}

	ts, v1, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		a.logger.Warn("Webhook rejected: malformed signature header", zap.Error(err))
		return fmt.Errorf("%w: %v", ierr.ErrUnauthenticated, err)
	}

	template := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(template))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(v1)) {
		a.logger.Warn("Webhook rejected: signature mismatch", zap.String("request_id", requestID))
		return fmt.Errorf("%w: signature mismatch", ierr.ErrUnauthenticated)
	}

	a.logger.Info("Webhook signature validated", zap.String("request_id", requestID))
	return nil
}

// parseSignatureHeader splits "ts=1704908010,v1=618c85..." into its parts.
func parseSignatureHeader(header string) (ts string, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "ts="):
			ts = strings.TrimPrefix(part, "ts=")
		case strings.HasPrefix(part, "v1="):
			v1 = strings.TrimPrefix(part, "v1=")
		}
	}
	if ts == "" || v1 == "" {
		return "", "", fmt.Errorf("signature header missing ts or v1 component")
	}
	return ts, v1, nil
}
