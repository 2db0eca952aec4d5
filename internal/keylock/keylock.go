package keylock

import (
	"context"
	"sync"
)

// Locker is a set of mutexes addressed by key. Entries exist only while a
// key is held or awaited, so idle keys cost nothing.
type Locker[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// New creates an empty Locker
func New[K comparable]() *Locker[K] {
	return &Locker[K]{entries: make(map[K]*entry)}
}

// Lock blocks until key is free or ctx is done. The returned function
// releases the key and is safe to call more than once.
func (l *Locker[K]) Lock(ctx context.Context, key K) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

func (l *Locker[K]) release(key K, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len returns the number of keys currently held or awaited
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
