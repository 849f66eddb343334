// Package lock serialises writes to a single position across goroutines and processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be taken before the deadline.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker grants exclusive access to a key. Release must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// PositionKey is the lock key of a position.
func PositionKey(positionID int64) string {
	return "position:" + strconv.FormatInt(positionID, 10)
}

// KeyedMutex is an in-process Locker with one mutex per key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{} // holds one token while locked
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Acquire blocks until key is free or ctx is done.
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, l)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.unref(key, l)
		})
	}, nil
}

func (m *KeyedMutex) unref(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

var _ Locker = (*KeyedMutex)(nil)
