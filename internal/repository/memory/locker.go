package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kyc-service/internal/repository"
)

type lockEntry struct {
	token   string
	expires time.Time
}

// Locker is a single-process stand-in for the Redis locker.
type Locker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]lockEntry)}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (repository.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if entry, held := l.locks[key]; held && now.Before(entry.expires) {
		return nil, repository.ErrLockHeld
	}
	token := uuid.NewString()
	l.locks[key] = lockEntry{token: token, expires: now.Add(ttl)}
	return &memoryLock{owner: l, key: key, token: token}, nil
}

type memoryLock struct {
	owner *Locker
	key   string
	token string
}

func (m *memoryLock) Release(ctx context.Context) error {
	m.owner.mu.Lock()
	defer m.owner.mu.Unlock()

	if entry, ok := m.owner.locks[m.key]; ok && entry.token == m.token {
		delete(m.owner.locks, m.key)
	}
	return nil
}

// Deduper remembers processed webhook digests until they expire.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]time.Time)}
}

func (d *Deduper) Seen(ctx context.Context, digest string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	expires, ok := d.seen[digest]
	if !ok {
		return false, nil
	}
	if time.Now().After(expires) {
		delete(d.seen, digest)
		return false, nil
	}
	return true, nil
}

func (d *Deduper) Mark(ctx context.Context, digest string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[digest] = time.Now().Add(ttl)
	return nil
}
