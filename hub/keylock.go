// Package hub implements the orchestration services: activity configuration,
// execution, deletion, and container traversal. Services receive their
// collaborators through constructors and share nothing implicitly.
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// KeyedLock is a map of per-id async mutexes. Entries are created lazily on
// first use and reference-counted, so an id with no waiters holds no memory.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLock creates an empty lock map.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: map[uuid.UUID]*lockEntry{}}
}

// Lock acquires the lock for the given id, waiting until the current holder
// releases it or ctx is done. The returned release function must be called
// exactly once on every exit path.
func (l *KeyedLock) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(id, entry)
		return nil, fmt.Errorf("acquire lock for %s: %w", id, ctx.Err())
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-entry.sem
			l.unref(id, entry)
		})
	}
	return release, nil
}

// unref drops one reference and removes the entry once nobody holds or
// awaits it.
func (l *KeyedLock) unref(id uuid.UUID, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
}

// Len returns the number of ids currently held or awaited.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
