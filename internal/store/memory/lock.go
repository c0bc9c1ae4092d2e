package memory

import (
	"context"
	"sync"
	"time"

	"github.com/memepit/memepit/internal/domain"
)

// LockManager is the in-process counterpart of the redis lock manager: the
// same fail-fast contract, scoped to a single process. Locks are exclusive
// and non-reentrant, so a nested acquire of the same key fails with
// ErrLockHeld even from the owning operation.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lockEntry
	token uint64
}

type lockEntry struct {
	token  uint64
	expiry time.Time
}

// NewLockManager creates an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lockEntry)}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the lock for key or fails fast with ErrLockHeld. The
// returned unlock is idempotent and releases only this acquisition.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	if e, ok := lm.held[key]; ok && now.Before(e.expiry) {
		return nil, domain.ErrLockHeld
	}
	lm.token++
	token := lm.token
	lm.held[key] = lockEntry{token: token, expiry: now.Add(ttl)}

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		if e, ok := lm.held[key]; ok && e.token == token {
			delete(lm.held, key)
		}
	}
	return unlock, nil
}
