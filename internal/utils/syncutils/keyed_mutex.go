package syncutils

import (
	"context"
	"sync"
)

// KeyedMutex provides mutual exclusion per string key. Locking one key never
// blocks callers acquiring a different key, and waiting for a held key
// suspends on a channel rather than spinning or holding any shared lock.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]chan struct{})}
}

// Lock acquires exclusive ownership of key, waiting until the current holder
// releases it or ctx is done. On success the caller must call Unlock(key)
// exactly once, including on every error path.
func (m *KeyedMutex) Lock(ctx context.Context, key string) error {
	m.mu.Lock()
	slot, ok := m.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		m.slots[key] = slot
	}
	m.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases ownership of key. Unlocking a key that is not held panics,
// matching sync.Mutex semantics.
func (m *KeyedMutex) Unlock(key string) {
	m.mu.Lock()
	slot, ok := m.slots[key]
	m.mu.Unlock()
	if !ok {
		panic("syncutils: unlock of unknown key " + key)
	}

	select {
	case <-slot:
	default:
		panic("syncutils: unlock of unlocked key " + key)
	}
}
