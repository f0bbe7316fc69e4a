package deer

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// GroupLock is an advisory lock over sets of keys. A call to Lock takes
// every requested key at once or none of them, so two callers can never
// each hold part of the other's set. It is not reentrant: locking a key
// the caller already holds blocks until the context expires.
//
// The zero value is ready to use.
type GroupLock[K cmp.Ordered] struct {
	mu   sync.Mutex
	held map[K]chan struct{}
}

// NewGroupLock creates an empty lock.
func NewGroupLock[K cmp.Ordered]() *GroupLock[K] {
	return &GroupLock[K]{held: make(map[K]chan struct{})}
}

// Lock blocks until every key is free, then takes all of them.
func (l *GroupLock[K]) Lock(ctx context.Context, keys ...K) error {
	keys = sortedKeys(keys)
	for {
		l.mu.Lock()
		wait := l.firstHeld(keys)
		if wait == nil {
			l.take(keys)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("%w on %v: %w", ErrLockTimeout, keys, ctx.Err())
		}
	}
}

// TryLock takes every key if all are free and reports whether it did.
func (l *GroupLock[K]) TryLock(keys ...K) bool {
	keys = sortedKeys(keys)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.firstHeld(keys) != nil {
		return false
	}
	l.take(keys)
	return true
}

// Unlock releases the keys. Keys that are not held are ignored.
func (l *GroupLock[K]) Unlock(keys ...K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if ch, ok := l.held[k]; ok {
			delete(l.held, k)
			close(ch)
		}
	}
}

// Held reports whether key is currently locked.
func (l *GroupLock[K]) Held(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// caller holds l.mu
func (l *GroupLock[K]) firstHeld(keys []K) chan struct{} {
	for _, k := range keys {
		if ch, ok := l.held[k]; ok {
			return ch
		}
	}
	return nil
}

// caller holds l.mu
func (l *GroupLock[K]) take(keys []K) {
	if l.held == nil {
		l.held = make(map[K]chan struct{})
	}
	for _, k := range keys {
		l.held[k] = make(chan struct{})
	}
}

func sortedKeys[K cmp.Ordered](keys []K) []K {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
