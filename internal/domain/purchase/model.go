package purchase

import (
	"database/sql"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// processorStatusMap folds Mercado Pago's native status vocabulary onto the
// five canonical statuses. Unknown values fall through to pending.
var processorStatusMap = map[string]Status{
	"approved":     StatusApproved,
	"pending":      StatusPending,
	"authorized":   StatusPending,
	"in_process":   StatusPending,
	"in_mediation": StatusPending,
	"rejected":     StatusRejected,
	"cancelled":    StatusCancelled,
	"refunded":     StatusRefunded,
	"charged_back": StatusRefunded,
}

// MapProcessorStatus is total: any native status string maps to a canonical
// one, defaulting to pending rather than failing on vocabulary drift.
func MapProcessorStatus(native string) Status {
	if s, ok := processorStatusMap[native]; ok {
		return s
	}
	return StatusPending
}

// rank orders canonical statuses for the regression guard. Once a purchase is
// approved, only refunded may overwrite it; licenses are never retracted by a
// stale delivery of an earlier status.
func rank(s Status) int {
	switch s {
	case StatusApproved:
		return 1
	case StatusRefunded:
		return 2
	default:
		return 0
	}
}

// CanTransition reports whether a stored status may be overwritten by the
// newly computed one. Equal statuses are the caller's no-op guard, not ours.
func CanTransition(from, to Status) bool {
	if from == StatusApproved {
		return rank(to) >= rank(from)
	}
	return true
}

type Purchase struct {
	ID           string          `db:"id"`
	ProductID    int64           `db:"product_id"`
	UserID       sql.NullInt64   `db:"user_id"`
	ProcessorRef sql.NullString  `db:"processor_ref"`
	Status       Status          `db:"status"`
	Amount       int64           `db:"amount"`
	UnitPrice    int64           `db:"unit_price"`
	Quantity     int             `db:"quantity"`
	Currency     string          `db:"currency"`
	PayerEmail   string          `db:"payer_email"`
	PayerName    sql.NullString  `db:"payer_name"`
	RawResponse  json.RawMessage `db:"raw_response"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// StatusChange describes the outcome of applying a processor status to a
// stored purchase. Changed is false when the delivery was a no-op replay or
// was blocked by the regression guard.
type StatusChange struct {
	Purchase  *Purchase
	OldStatus Status
	NewStatus Status
	Changed   bool
}

func (p *Purchase) SetRawResponse(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.RawResponse = jsonData
	return nil
}
