package router

import (
	"context"
	"sync"
)

// keyedLocks serializes work per router name. Entries are dropped once no
// caller holds or waits on them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

// Lock blocks until name is free or ctx is done.
func (k *keyedLocks) Lock(ctx context.Context, name string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[name]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		k.locks[name] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			k.release(name, l)
		}, nil
	case <-ctx.Done():
		k.release(name, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) release(name string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, name)
	}
}

func (k *keyedLocks) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
