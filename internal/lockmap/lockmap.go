// Package lockmap provides mutual exclusion by key.
package lockmap

import "sync"

// LockMap hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits for them, so the map only grows with
// the number of keys in contention.
type LockMap[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*Unlocker[K]
}

func New[K comparable]() *LockMap[K] {
	return &LockMap[K]{locks: map[K]*Unlocker[K]{}}
}

// Lock blocks until key is free and returns the handle that releases it.
func (m *LockMap[K]) Lock(key K) *Unlocker[K] {
	m.mu.Lock()
	l := m.locks[key]
	if l == nil {
		l = &Unlocker[K]{m: m, key: key}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.locker.Lock()
	return l
}

// Len returns the number of keys currently held or waited on.
func (m *LockMap[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

type Unlocker[K comparable] struct {
	locker sync.Mutex
	m      *LockMap[K]
	key    K
	refs   int
}

func (l *Unlocker[K]) Unlock() {
	l.locker.Unlock()

	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(l.m.locks, l.key)
	}
}
