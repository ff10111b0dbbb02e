// Package lock provides the reader/writer lock attached to every node of the
// namespace tree.
//
// A NodeLock admits requests in strict arrival order. Shared requests at the
// head of the queue are admitted together as long as no exclusive holder is
// active; an exclusive request waits until every earlier request has been
// served and all shared holders have released. A request never overtakes one
// that arrived before it, so writers cannot be starved by a stream of readers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Mode is the access mode requested from a NodeLock.
type Mode int

const (
	// Shared allows any number of concurrent holders.
	Shared Mode = iota

	// Exclusive allows exactly one holder and no shared holders.
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ModeFor maps the boolean form used by the service contract to a Mode.
func ModeFor(exclusive bool) Mode {
	if exclusive {
		return Exclusive
	}
	return Shared
}

// ErrNotHeld is returned by Release when the released mode is not held.
var ErrNotHeld = errors.New("lock not held")

// ticket is one queued request. ready is closed when the request is admitted.
type ticket struct {
	mode  Mode
	ready chan struct{}
}

// NodeLock is a FIFO-fair reader/writer lock.
//
// The zero value is an unlocked NodeLock ready for use. A NodeLock must not be
// copied after first use.
type NodeLock struct {
	mu sync.Mutex

	// readers is the number of active shared holders
	readers int

	// exclusive is true while an exclusive holder is active
	exclusive bool

	// queue holds pending tickets in arrival order
	queue []*ticket
}

// New returns an unlocked NodeLock.
func New() *NodeLock {
	return &NodeLock{}
}

// Acquire blocks until the lock is held in the requested mode.
//
// Acquire never fails and never times out.
func (l *NodeLock) Acquire(mode Mode) {
	// Background is never done, so the error is always nil.
	_ = l.AcquireContext(context.Background(), mode)
}

// AcquireContext is like Acquire but gives up when ctx is done.
//
// When ctx ends first the ticket is withdrawn from the queue, the waiters
// behind it are re-evaluated and ctx.Err() is returned. If admission and
// cancellation race, admission wins: the lock is held and nil is returned.
func (l *NodeLock) AcquireContext(ctx context.Context, mode Mode) error {
	t := &ticket{mode: mode, ready: make(chan struct{})}

	l.mu.Lock()
	l.queue = append(l.queue, t)
	l.admitLocked()
	l.mu.Unlock()

	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-t.ready:
		return nil
	default:
	}

	l.withdrawLocked(t)
	l.admitLocked()

	return ctx.Err()
}

// Release gives up one hold of the given mode and admits every waiter that
// became eligible.
func (l *NodeLock) Release(mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch mode {
	case Shared:
		if l.readers == 0 {
			return fmt.Errorf("release %s: %w", mode, ErrNotHeld)
		}
		l.readers--
	case Exclusive:
		if !l.exclusive {
			return fmt.Errorf("release %s: %w", mode, ErrNotHeld)
		}
		l.exclusive = false
	default:
		return fmt.Errorf("release: unknown %s", mode)
	}

	l.admitLocked()
	return nil
}

// admitLocked grants the lock to waiters at the head of the queue for as long
// as the head is eligible. Consecutive shared tickets are admitted together.
func (l *NodeLock) admitLocked() {
	for len(l.queue) > 0 {
		head := l.queue[0]

		switch head.mode {
		case Shared:
			if l.exclusive {
				return
			}
			l.readers++
		case Exclusive:
			if l.exclusive || l.readers > 0 {
				return
			}
			l.exclusive = true
		}

		l.queue[0] = nil
		l.queue = l.queue[1:]
		close(head.ready)
	}
}

func (l *NodeLock) withdrawLocked(t *ticket) {
	for i, queued := range l.queue {
		if queued == t {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// Readers returns the number of active shared holders.
func (l *NodeLock) Readers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers
}

// ExclusiveHeld reports whether an exclusive holder is active.
func (l *NodeLock) ExclusiveHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exclusive
}

// Waiting returns the number of queued, not yet admitted requests.
func (l *NodeLock) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Idle reports whether the lock has no holders and no waiters.
func (l *NodeLock) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers == 0 && !l.exclusive && len(l.queue) == 0
}
