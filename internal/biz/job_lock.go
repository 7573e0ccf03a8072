package biz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// ErrJobAlreadyRunning is returned by WithLock when the named lock is held.
var ErrJobAlreadyRunning = errors.New("job already running")

// DefaultJobTTL bounds lock lifetime when the caller passes no TTL, so a
// holder that crashes without unlocking cannot wedge the job forever.
const DefaultJobTTL = time.Hour

type lockEntry struct {
	acquiredAt time.Time
	expiresAt  time.Time
}

// JobLockTable is a TTL-based named mutex table preventing overlapping runs
// of the same logical task. State is in-memory only and deliberately lost on
// restart; a fresh process starts with every lock free.
type JobLockTable struct {
	mu    sync.Mutex
	locks map[string]lockEntry

	now    func() time.Time
	logger *log.Helper
}

// NewJobLockTable creates an empty lock table.
func NewJobLockTable(logger log.Logger) *JobLockTable {
	return &JobLockTable{
		locks:  make(map[string]lockEntry),
		now:    time.Now,
		logger: log.NewHelper(logger),
	}
}

// TryLock attempts to acquire the named lock for ttl. An expired entry is
// treated as absent and replaced atomically. Returns false when the lock is
// held and unexpired.
func (t *JobLockTable) TryLock(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if entry, ok := t.locks[key]; ok && now.Before(entry.expiresAt) {
		return false
	}

	t.locks[key] = lockEntry{acquiredAt: now, expiresAt: now.Add(ttl)}
	return true
}

// Unlock releases the named lock.
func (t *JobLockTable) Unlock(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, key)
}

// IsLocked reports whether the named lock is held and unexpired.
func (t *JobLockTable) IsLocked(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.locks[key]
	return ok && t.now().Before(entry.expiresAt)
}

// WithLock runs fn while holding the named lock, failing fast with
// ErrJobAlreadyRunning when it cannot be acquired.
func (t *JobLockTable) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if !t.TryLock(key, ttl) {
		t.logger.Debugw("msg", "job lock busy", "job", key)
		return ErrJobAlreadyRunning
	}
	defer t.Unlock(key)

	return fn(ctx)
}
