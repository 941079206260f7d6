package license

import (
	"database/sql"
	"errors"
	"time"
)

// ErrSeatExists signals that a seat for (purchase, seat index) has already
// been materialized, detected via the unique constraint on license rows.
var ErrSeatExists = errors.New("seat already provisioned for this purchase")

// License is one purchased seat. A row with an empty hardware id is an
// unbound slot; binding records the claiming device and its activation time.
// Licenses key on payer email rather than account id so that guest purchases
// remain claimable after registration.
type License struct {
	ID          int64          `db:"id"`
	ProductID   int64          `db:"product_id"`
	Email       string         `db:"email"`
	UserID      sql.NullInt64  `db:"user_id"`
	PurchaseID  sql.NullString `db:"purchase_id"`
	SeatIndex   int            `db:"seat_index"`
	HardwareID  sql.NullString `db:"hardware_id"`
	LicenseKey  string         `db:"license_key"`
	ActivatedAt sql.NullTime   `db:"activated_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Bound reports whether a device currently occupies this slot.
func (l *License) Bound() bool {
	return l.HardwareID.Valid && l.HardwareID.String != ""
}

type LogAction string

const (
	ActionActivate LogAction = "activate"
	ActionVerify   LogAction = "verify"
)

type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
)

// ActivationLogEntry is an append-only audit record of one activate or verify
// attempt, written regardless of outcome.
type ActivationLogEntry struct {
	ID         int64          `db:"id"`
	ProductID  int64          `db:"product_id"`
	Email      string         `db:"email"`
	HardwareID string         `db:"hardware_id"`
	LicenseID  sql.NullInt64  `db:"license_id"`
	Action     LogAction      `db:"action"`
	Status     LogStatus      `db:"status"`
	Message    string         `db:"message"`
	IP         sql.NullString `db:"ip"`
	UserAgent  sql.NullString `db:"user_agent"`
	CreatedAt  time.Time      `db:"created_at"`
}
