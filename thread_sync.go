package rtsync

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/llxisdsh/rtsync/internal/opt"
)

// ownerState is the lock owner: unowned, or the id of the goroutine
// holding the lock. It only changes while the lock is held.
type ownerState int64

const unowned ownerState = 0

func (o ownerState) ownedBy(gid int64) bool {
	return o != unowned && int64(o) == gid
}

// ThreadSync is a wait/signal point for goroutines of one process: a lock
// plus a condition, where only the goroutine holding the lock may wait.
//
// The usual pattern mirrors a condition variable:
//
//	s.Lock()
//	for !ready {
//		s.Wait()
//	}
//	s.Unlock()
//
// with the signaller changing ready under the same lock before Signal.
type ThreadSync struct {
	_ noCopy
	flusher
	mu    sync.Mutex
	owner atomic.Int64
	_     [opt.CacheLineSize]byte
	queue waitQueue

	name   string
	clock  Clock
	report Reporter
}

// NewThreadSync creates a ThreadSync. The deadline clock is chosen here
// and kept for the lifetime of the object.
func NewThreadSync(name string, opts ...func(*Config)) *ThreadSync {
	c := newConfig(opts)
	clock := DetectClock()
	if c.hasClock {
		clock = c.clock
	}
	return &ThreadSync{name: name, clock: clock, report: c.reporter}
}

// Name returns the name given at construction.
func (s *ThreadSync) Name() string { return s.name }

// Clock returns the clock timed waits are measured on.
func (s *ThreadSync) Clock() Clock { return s.clock }

// Lock acquires the lock and makes the caller its owner.
func (s *ThreadSync) Lock() {
	gid := goid()
	s.mu.Lock()
	s.owner.Store(gid)
}

// TryLock acquires the lock if it is free.
func (s *ThreadSync) TryLock() bool {
	gid := goid()
	if !s.mu.TryLock() {
		return false
	}
	s.owner.Store(gid)
	return true
}

// Unlock releases the lock. Only the owner may release it.
func (s *ThreadSync) Unlock() error {
	if !s.ownerState().ownedBy(goid()) {
		err := &OpError{Op: "Unlock", Name: s.name, Err: ErrNotOwner}
		s.report.Errorf("ThreadSync.Unlock name = %s err = %v", s.name, ErrNotOwner)
		return err
	}
	s.owner.Store(int64(unowned))
	s.mu.Unlock()
	return nil
}

// Owned reports whether the calling goroutine holds the lock.
func (s *ThreadSync) Owned() bool {
	return s.ownerState().ownedBy(goid())
}

func (s *ThreadSync) ownerState() ownerState {
	return ownerState(s.owner.Load())
}

// Waiters returns the number of goroutines blocked in a wait.
func (s *ThreadSync) Waiters() int {
	return s.queue.len()
}

// Signal wakes one waiter without taking the lock. The caller is expected
// to hold it already if the waited-for state needs protecting.
func (s *ThreadSync) Signal() error {
	if s.Flushing() {
		return nil
	}
	s.queue.wakeOne()
	return nil
}

// SignalAll wakes every waiter without taking the lock.
func (s *ThreadSync) SignalAll() error {
	if s.Flushing() {
		return nil
	}
	s.queue.wakeAll()
	return nil
}

// LockedSignal takes the lock, signals one waiter and releases it.
func (s *ThreadSync) LockedSignal() error {
	s.Lock()
	err := s.Signal()
	if uerr := s.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// LockedSignalAll takes the lock, signals every waiter and releases it.
func (s *ThreadSync) LockedSignalAll() error {
	s.Lock()
	err := s.SignalAll()
	if uerr := s.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// mustOwn panics unless the caller holds the lock.
func (s *ThreadSync) mustOwn(op string, gid int64) {
	if !s.ownerState().ownedBy(gid) {
		panic(&UsageError{Op: op, Name: s.name, Err: ErrNotOwner})
	}
}

// Wait releases the lock, blocks until signalled, then takes the lock
// back. The caller must hold the lock; calling Wait without it panics
// with a *UsageError.
func (s *ThreadSync) Wait() error {
	gid := goid()
	s.mustOwn("Wait", gid)
	w := s.queue.enqueue()
	if w == nil {
		s.report.Errorf("ThreadSync.Wait name = %s err = %v", s.name, ErrClosed)
		return &OpError{Op: "Wait", Name: s.name, Err: ErrClosed}
	}
	s.owner.Store(int64(unowned))
	s.mu.Unlock()

	<-w.ready

	s.mu.Lock()
	s.owner.Store(gid)
	return nil
}

// TimedWait is Wait bounded by usec microseconds on the object's clock.
// It returns true, with the lock held again, when signalled in time. On
// timeout it returns false and the lock stays released: the caller no
// longer owns it and must not Unlock.
func (s *ThreadSync) TimedWait(usec int64) (bool, error) {
	gid := goid()
	s.mustOwn("TimedWait", gid)
	deadline := s.clock.ComputeDeadline(usec)
	w := s.queue.enqueue()
	if w == nil {
		s.report.Errorf("ThreadSync.TimedWait name = %s err = %v", s.name, ErrClosed)
		return false, &OpError{Op: "TimedWait", Name: s.name, Err: ErrClosed}
	}
	s.owner.Store(int64(unowned))
	s.mu.Unlock()

	if !s.park(w, deadline) {
		return false, nil
	}
	s.mu.Lock()
	s.owner.Store(gid)
	return true, nil
}

// park blocks until w is woken or the deadline passes. A wake-up racing
// with the deadline still counts.
func (s *ThreadSync) park(w *queueWaiter, deadline Deadline) bool {
	left := s.clock.Until(deadline)
	if left > 0 {
		t := time.NewTimer(left)
		select {
		case <-w.ready:
			t.Stop()
			return true
		case <-t.C:
		}
	}
	if s.queue.cancel(w) {
		return false
	}
	<-w.ready
	return true
}

// LockedWait takes the lock, waits, and releases the lock.
func (s *ThreadSync) LockedWait() error {
	s.Lock()
	err := s.Wait()
	if uerr := s.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// LockedTimedWait takes the lock, waits at most usec microseconds, and
// leaves the lock released.
func (s *ThreadSync) LockedTimedWait(usec int64) (bool, error) {
	s.Lock()
	ok, err := s.TimedWait(usec)
	if ok || err != nil {
		if uerr := s.Unlock(); err == nil {
			err = uerr
		}
	}
	return ok, err
}

// Close wakes every waiter and refuses further waits. Signals on a
// closed ThreadSync are no-ops.
func (s *ThreadSync) Close() error {
	if n := s.queue.close(); n > 0 {
		s.report.Debugf("ThreadSync.Close name = %s released %d waiters", s.name, n)
	}
	return nil
}
