package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Locker serializes critical sections per key. WithLock runs fn only while the
// lock is held and returns fn's error verbatim; any other error means the lock
// could not be obtained.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// ErrLockBusy is returned when a lock stays held for longer than the wait.
var ErrLockBusy = errors.New("lock busy")

const defaultLockWait = 3 * time.Second

// LocalLocker is an in-process keyed mutex for single-instance deployments.
// A caller waits at most wait for a held key.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
	wait  time.Duration
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &LocalLocker{locks: make(map[string]*localLock), wait: wait}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s held for more than %s", ErrLockBusy, key, l.wait)
	}
	defer func() { <-lk.ch }()

	return fn(ctx)
}
