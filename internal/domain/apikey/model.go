package apikey

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	APIKeyPrefixLength = 8
	APIKeySecretLength = 32
	APIKeyFormat       = "cc_%s_%s"
)

// APIKey authenticates device-facing clients (the installed apps calling
// activate/verify). Only the SHA-256 hash of the full key is stored.
type APIKey struct {
	ID          uuid.UUID     `db:"id"`
	KeyHash     string        `db:"key_hash"`
	Prefix      string        `db:"prefix"`
	Description string        `db:"description"`
	ProductID   sql.NullInt64 `db:"product_id"`
	IsEnabled   bool          `db:"is_enabled"`
	CreatedAt   time.Time     `db:"created_at"`
	LastUsedAt  *time.Time    `db:"last_used_at"`
}
