package memstorage

import (
	"context"
	"sync"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
)

type ActivationLogRepository struct {
	mu      sync.Mutex
	nextID  int64
	entries []*license.ActivationLogEntry
}

func NewActivationLogRepository() *ActivationLogRepository {
	return &ActivationLogRepository{nextID: 1}
}

var _ license.ActivationLogRepository = (*ActivationLogRepository)(nil)

func (r *ActivationLogRepository) Append(ctx context.Context, entry *license.ActivationLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *entry
	cp.ID = r.nextID
	cp.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, &cp)
	r.nextID++
	return nil
}

// Entries returns a snapshot of the audit trail, used by tests to assert
// that every attempt was logged.
func (r *ActivationLogRepository) Entries() []*license.ActivationLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*license.ActivationLogEntry, len(r.entries))
	for i, e := range r.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}
