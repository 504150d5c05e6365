package rtsync

import (
	"os"
	"sync"

	"github.com/llxisdsh/rtsync/internal/ksem"
)

// semPerm is the creation mode of kernel objects, filtered by the umask.
const semPerm os.FileMode = 0o777

// ProcessSync is a wait/signal point shared by independent processes
// through a named kernel semaphore.
//
// The server side calls Allocate and, when done, Destroy. Clients call
// Connect and Disconnect. Every side derives the same name from the
// client and server names, so they meet without any other channel.
//
// SignalAll cannot broadcast: a counting semaphore wakes one waiter per
// post, so SignalAll behaves exactly like Signal.
type ProcessSync struct {
	_ noCopy
	flusher

	mu   sync.Mutex
	sem  *ksem.Semaphore // nil until allocated or connected
	name string

	dir         string
	naming      Naming
	uid         int
	promiscuous bool
	gid         int
	timed       ksem.TimedMode
	untimedOnce sync.Once
	report      Reporter
}

// NewProcessSync creates an unallocated handle. Promiscuous mode and its
// group come from PromiscuousEnv unless options override them.
func NewProcessSync(opts ...func(*Config)) *ProcessSync {
	c := newConfig(opts)
	return &ProcessSync{
		dir:         c.dir,
		naming:      c.naming,
		uid:         c.uid,
		promiscuous: c.promiscuous,
		gid:         c.gid,
		timed:       ksem.DetectTimedMode(),
		report:      c.reporter,
	}
}

// Name returns the derived kernel name, empty before the first
// Allocate or Connect.
func (p *ProcessSync) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Promiscuous reports whether names and permissions are shared across users.
func (p *ProcessSync) Promiscuous() bool { return p.promiscuous }

// BuildName derives the kernel name this handle uses for a client of a server.
func (p *ProcessSync) BuildName(client, server string) string {
	return p.naming.BuildName(client, server, p.promiscuous, p.uid)
}

// Allocate creates the semaphore with an initial count, publishing it
// under the derived name. An object already published under that name is
// opened as is. Server side only.
func (p *ProcessSync) Allocate(client, server string, initial uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := p.BuildName(client, server)
	if p.sem != nil {
		p.report.Errorf("ProcessSync.Allocate name = %s err = %v", name, ErrAllocated)
		return &OpError{Op: "Allocate", Name: name, Err: ErrAllocated}
	}
	p.name = name
	p.report.Debugf("ProcessSync.Allocate name = %s val = %d", name, initial)

	sem, err := ksem.Create(p.dir, name, semPerm, initial)
	if err != nil {
		p.report.Errorf("Allocate: can't check in named semaphore name = %s err = %v", name, err)
		return &OpError{Op: "Allocate", Name: name, Err: err}
	}
	if p.promiscuous {
		if err := ksem.Widen(sem.Path(), p.gid); err != nil {
			p.report.Errorf("Allocate: can't widen permissions name = %s err = %v", name, err)
			_ = sem.Close()
			return &OpError{Op: "Allocate", Name: name, Err: err}
		}
	}
	p.sem = sem
	return nil
}

// Connect opens the semaphore published by the server. Connecting an
// already connected handle does nothing.
func (p *ProcessSync) Connect(client, server string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := p.BuildName(client, server)
	if p.sem != nil {
		p.report.Debugf("ProcessSync.Connect already connected name = %s", p.name)
		return nil
	}
	p.name = name
	p.report.Debugf("ProcessSync.Connect name = %s", name)

	sem, err := ksem.Open(p.dir, name)
	if err != nil {
		p.report.Errorf("Connect: can't connect named semaphore name = %s err = %v", name, err)
		return &OpError{Op: "Connect", Name: name, Err: err}
	}
	p.sem = sem
	p.report.Debugf("ProcessSync.Connect name = %s value = %d", name, sem.Value())
	return nil
}

// ConnectInput is Connect for the input side of a client.
func (p *ProcessSync) ConnectInput(client, server string) error {
	return p.Connect(client, server)
}

// ConnectOutput is Connect for the output side of a client.
func (p *ProcessSync) ConnectOutput(client, server string) error {
	return p.Connect(client, server)
}

// Connected reports whether the handle is allocated or connected.
func (p *ProcessSync) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sem != nil
}

// Disconnect closes the local handle. The kernel object stays published.
func (p *ProcessSync) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sem == nil {
		return nil
	}
	p.report.Debugf("ProcessSync.Disconnect name = %s", p.name)
	if err := p.sem.Close(); err != nil {
		p.report.Errorf("Disconnect: can't disconnect named semaphore name = %s err = %v", p.name, err)
		return &OpError{Op: "Disconnect", Name: p.name, Err: err}
	}
	p.sem = nil
	return nil
}

// Destroy unpublishes the name and closes the local handle. Other
// handles keep working on the orphaned object, but no new Connect finds
// it. Server side only.
func (p *ProcessSync) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sem == nil {
		p.report.Errorf("ProcessSync.Destroy name = %s err = %v", p.name, ErrNotAllocated)
		return &OpError{Op: "Destroy", Name: p.name, Err: ErrNotAllocated}
	}
	p.report.Debugf("ProcessSync.Destroy name = %s", p.name)
	var first error
	if err := ksem.Unlink(p.dir, p.name); err != nil {
		p.report.Errorf("Destroy: can't unlink semaphore name = %s err = %v", p.name, err)
		first = &OpError{Op: "Destroy", Name: p.name, Err: err}
	}
	if err := p.sem.Close(); err != nil {
		p.report.Errorf("Destroy: can't destroy semaphore name = %s err = %v", p.name, err)
		if first == nil {
			first = &OpError{Op: "Destroy", Name: p.name, Err: err}
		}
	}
	p.sem = nil
	return first
}

// pin returns a private handle for one blocking call, so a concurrent
// Disconnect cannot unmap the semaphore under a waiter.
func (p *ProcessSync) pin(op string) (*ksem.Semaphore, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sem == nil {
		p.report.Errorf("ProcessSync.%s name = %s already deallocated", op, p.name)
		return nil, p.name, &OpError{Op: op, Name: p.name, Err: ErrNotAllocated}
	}
	return p.sem.Dup(), p.name, nil
}

// Signal posts the semaphore, waking at most one waiter.
func (p *ProcessSync) Signal() error {
	return p.post("Signal")
}

// SignalAll is the same as Signal: the semaphore has no broadcast.
func (p *ProcessSync) SignalAll() error {
	return p.post("SignalAll")
}

func (p *ProcessSync) post(op string) error {
	sem, name, err := p.pin(op)
	if err != nil {
		return err
	}
	defer sem.Close()
	if p.Flushing() {
		return nil
	}
	if err := sem.Post(); err != nil {
		p.report.Errorf("ProcessSync.%s name = %s err = %v", op, name, err)
		return &OpError{Op: op, Name: name, Err: err}
	}
	return nil
}

// Wait blocks until the count is positive, then decrements it.
// Interrupted waits are resumed.
func (p *ProcessSync) Wait() error {
	sem, name, err := p.pin("Wait")
	if err != nil {
		return err
	}
	defer sem.Close()
	if err := sem.Wait(); err != nil {
		p.report.Errorf("ProcessSync.Wait name = %s err = %v", name, err)
		return &OpError{Op: "Wait", Name: name, Err: err}
	}
	return nil
}

// TimedWait is Wait bounded by usec microseconds. It returns false when
// the time runs out first.
//
// The deadline is wall-clock time, the clock the kernel semaphore's
// timed wait is specified against. Where no timed wait exists, this is a
// plain Wait and the timeout is not honored.
func (p *ProcessSync) TimedWait(usec int64) (bool, error) {
	if p.timed == ksem.TimedUnsupported {
		p.untimedOnce.Do(func() {
			p.report.Errorf("ProcessSync.TimedWait name = %s: timed wait unsupported, waiting without timeout", p.Name())
		})
		if err := p.Wait(); err != nil {
			return false, err
		}
		return true, nil
	}

	sem, name, err := p.pin("TimedWait")
	if err != nil {
		return false, err
	}
	defer sem.Close()
	deadline := ClockRealtime.ComputeDeadline(usec)
	ok, err := sem.TimedWait(deadline.Sec, deadline.Nsec)
	if err != nil {
		p.report.Errorf("ProcessSync.TimedWait name = %s usec = %d err = %v", name, usec, err)
		return false, &OpError{Op: "TimedWait", Name: name, Err: err}
	}
	return ok, nil
}

// Value returns the current count.
func (p *ProcessSync) Value() (uint32, error) {
	sem, _, err := p.pin("Value")
	if err != nil {
		return 0, err
	}
	defer sem.Close()
	return sem.Value(), nil
}
