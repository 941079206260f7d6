package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func signHeader(t *testing.T, secret, dataID, requestID, ts string) string {
	t.Helper()
	template := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(template))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestAuthenticateValidSignature(t *testing.T) {
	auth := NewAuthenticator("topsecret", zap.NewNop())

	header := signHeader(t, "topsecret", "12345", "req-abc", "1704908010")
	err := auth.Authenticate(header, "req-abc", "12345")
	require.NoError(t, err)
}

func TestAuthenticateSignatureWithSpaces(t *testing.T) {
	auth := NewAuthenticator("topsecret", zap.NewNop())

	template := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", "999", "req-1", "1700000000")
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte(template))
	header := fmt.Sprintf("ts=%s, v1=%s", "1700000000", hex.EncodeToString(mac.Sum(nil)))

	require.NoError(t, auth.Authenticate(header, "req-1", "999"))
}

func TestAuthenticateTamperedPayload(t *testing.T) {
	auth := NewAuthenticator("topsecret", zap.NewNop())

	header := signHeader(t, "topsecret", "12345", "req-abc", "1704908010")
	err := auth.Authenticate(header, "req-abc", "99999")
	assert.ErrorIs(t, err, ierr.ErrUnauthenticated)
}

func TestAuthenticateWrongSecret(t *testing.T) {
	auth := NewAuthenticator("topsecret", zap.NewNop())

	header := signHeader(t, "othersecret", "12345", "req-abc", "1704908010")
	err := auth.Authenticate(header, "req-abc", "12345")
	assert.ErrorIs(t, err, ierr.ErrUnauthenticated)
}

func TestAuthenticateMissingHeaders(t *testing.T) {
	auth := NewAuthenticator("topsecret", zap.NewNop())

	assert.ErrorIs(t, auth.Authenticate("", "req-abc", "12345"), ierr.ErrUnauthenticated)
	assert.ErrorIs(t, auth.Authenticate("ts=1,v1=abc", "", "12345"), ierr.ErrUnauthenticated)
}

func TestAuthenticateMalformedHeader(t *testing.T) {
	auth := NewAuthenticator("topsecret", zap.NewNop())

	assert.ErrorIs(t, auth.Authenticate("garbage", "req-abc", "12345"), ierr.ErrUnauthenticated)
	assert.ErrorIs(t, auth.Authenticate("ts=1704908010", "req-abc", "12345"), ierr.ErrUnauthenticated)
}

func TestAuthenticateBypassWithoutSecret(t *testing.T) {
	auth := NewAuthenticator("", zap.NewNop())

	// No secret configured: deliveries pass without verification.
	require.NoError(t, auth.Authenticate("", "", "12345"))
	require.NoError(t, auth.Authenticate("nonsense", "req-abc", "12345"))
}
