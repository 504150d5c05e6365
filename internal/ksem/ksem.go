// Package ksem implements kernel-visible named counting semaphores.
//
// A semaphore is a small file-backed segment living in a shared tmpfs
// directory (/dev/shm on Linux). The segment holds one 64-bit word: the
// count in the low half and the number of registered waiters in the high
// half, the same layout the 64-bit C library uses for sem_t. Waiters park
// on the count with a process-shared futex, so any process that maps the
// file can post or wait.
package ksem

import (
	"errors"
	"math"
	"path/filepath"
)

// DefaultDir is the namespace directory used when none is given.
const DefaultDir = "/dev/shm"

// filePrefix is prepended to every semaphore name on disk.
const filePrefix = "sem."

// ValueMax is the largest count a semaphore can hold.
const ValueMax = math.MaxInt32

// ErrUnsupported is returned on platforms without a kernel semaphore backend.
var ErrUnsupported = errors.ErrUnsupported

// TimedMode tells how timed waits are carried out on this platform.
type TimedMode uint8

const (
	// TimedAbsolute waits against an absolute wall-clock deadline.
	TimedAbsolute TimedMode = iota
	// TimedUnsupported means no timed wait exists; callers fall back to
	// an untimed wait.
	TimedUnsupported
)

func (m TimedMode) String() string {
	switch m {
	case TimedAbsolute:
		return "absolute"
	case TimedUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Path returns the file backing the semaphore name inside dir.
func Path(dir, name string) string {
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, filePrefix+name)
}
