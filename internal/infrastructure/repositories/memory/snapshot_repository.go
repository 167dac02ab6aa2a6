package memory

import (
	"sync"
	"time"

	"kvmbridge/internal/core/domain"
	"kvmbridge/internal/core/ports"
)

// MemorySnapshotRepository holds the latest device snapshot. The bridge
// serves a single device, so one slot is all the state there is; nothing
// needs to survive a restart because the first poll cycle repopulates it.
type MemorySnapshotRepository struct {
	mu        sync.RWMutex
	snapshot  domain.Snapshot
	hasData   bool
	lastErr   error
	updatedAt time.Time
}

func NewMemorySnapshotRepository() ports.SnapshotRepository {
	return &MemorySnapshotRepository{}
}

func (r *MemorySnapshotRepository) Set(snapshot domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshot = snapshot
	r.hasData = true
	r.lastErr = nil
	r.updatedAt = time.Now()
}

// SetError records a failed refresh. A previously stored snapshot stays
// readable; Latest only fails while no snapshot has ever been stored.
func (r *MemorySnapshotRepository) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastErr = err
	r.updatedAt = time.Now()
}

func (r *MemorySnapshotRepository) Latest() (domain.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.hasData {
		if r.lastErr != nil {
			return domain.Snapshot{}, r.lastErr
		}
		return domain.Snapshot{}, domain.ErrNoSnapshot
	}
	return r.snapshot, nil
}

// LastError returns the most recent refresh error, or nil after a
// successful cycle. Health checks use it to report degraded polling.
func (r *MemorySnapshotRepository) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// UpdatedAt returns when the repository last changed.
func (r *MemorySnapshotRepository) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}
