// Package rtsync provides the wait/signal points a real-time audio server
// uses to hand control between its processing thread and its clients.
//
// Two realizations share one capability set: ThreadSync for goroutines of
// one process, and ProcessSync for independent processes rendezvousing on
// a named kernel semaphore.
package rtsync

import (
	"errors"
	"sync/atomic"
)

// Synchro is the capability every synchronization point exposes.
//
// A timeout is not an error: TimedWait reports it as (false, nil).
// Recoverable failures come back as errors. Calling Wait on a ThreadSync
// without owning its lock panics with a *UsageError.
type Synchro interface {
	// Name returns the name the object was created or opened with.
	Name() string
	// SetFlush mutes (true) or unmutes (false) the signal operations.
	SetFlush(on bool)
	// Flushing reports whether signals are muted.
	Flushing() bool
	// Signal wakes at most one waiter.
	Signal() error
	// SignalAll wakes the waiters the realization is able to reach.
	SignalAll() error
	// Wait blocks until signalled.
	Wait() error
	// TimedWait blocks at most usec microseconds.
	TimedWait(usec int64) (bool, error)
}

var (
	_ Synchro = (*ThreadSync)(nil)
	_ Synchro = (*ProcessSync)(nil)
)

var (
	// ErrNotOwner reports that the calling goroutine does not hold the lock.
	ErrNotOwner = errors.New("rtsync: lock not held by the calling goroutine")
	// ErrNotAllocated reports an operation on a handle that is not
	// allocated or connected.
	ErrNotAllocated = errors.New("rtsync: synchro not allocated")
	// ErrAllocated reports an Allocate on a handle that already has one.
	ErrAllocated = errors.New("rtsync: synchro already allocated")
	// ErrClosed reports a wait on a closed ThreadSync.
	ErrClosed = errors.New("rtsync: synchro closed")
	// ErrUnsupported reports a platform without a kernel semaphore backend.
	ErrUnsupported = errors.ErrUnsupported
)

// OpError is the recoverable failure of one operation.
type OpError struct {
	Op   string
	Name string
	Err  error
}

func (e *OpError) Error() string {
	if e.Name == "" {
		return "rtsync: " + e.Op + ": " + e.Err.Error()
	}
	return "rtsync: " + e.Op + " " + e.Name + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// UsageError is the panic value for a broken calling contract. It is a
// defect in the caller, never a runtime condition.
type UsageError struct {
	Op   string
	Name string
	Err  error
}

func (e *UsageError) Error() string {
	return "rtsync: " + e.Op + " on " + e.Name + ": " + e.Err.Error()
}

func (e *UsageError) Unwrap() error { return e.Err }

// flusher holds the per-object flush switch.
type flusher struct {
	on atomic.Bool
}

func (f *flusher) SetFlush(on bool) { f.on.Store(on) }

func (f *flusher) Flushing() bool { return f.on.Load() }
