// Package lock serializes multi-record updates on report pairs.
package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNotObtained is returned when a lock could not be acquired before giving up.
var ErrNotObtained = errors.New("lock not obtained")

// Locker acquires exclusive locks on a set of keys.
type Locker interface {
	// Lock blocks until every key is held or ctx is done. The returned
	// function releases all keys and is safe to call once.
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// sortedKeys returns the distinct keys in ascending order so that two
// callers locking the same pair never wait on each other crosswise.
func sortedKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

// Local is an in-process keyed mutex. Entries are reference counted and
// removed once no goroutine holds or waits for them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.drop(key)
		return ctx.Err()
	}
}

func (l *Local) release(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	<-s.ch
	l.drop(key)
}

func (l *Local) drop(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Lock acquires every key in sorted order.
func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	sorted := sortedKeys(keys)
	held := make([]string, 0, len(sorted))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}
	for _, k := range sorted {
		if err := l.acquire(ctx, k); err != nil {
			unlock()
			return nil, err
		}
		held = append(held, k)
	}
	return sync.OnceFunc(unlock), nil
}

// held reports how many keys currently have a slot. Used by tests.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

var _ Locker = (*Local)(nil)
