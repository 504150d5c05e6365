//go:build !linux

package ksem

import "os"

// Semaphore is unavailable on this platform; every operation fails with
// ErrUnsupported.
type Semaphore struct{}

func Create(dir, name string, perm os.FileMode, value uint32) (*Semaphore, error) {
	return nil, ErrUnsupported
}

func Open(dir, name string) (*Semaphore, error) {
	return nil, ErrUnsupported
}

func Unlink(dir, name string) error {
	return ErrUnsupported
}

func Widen(path string, gid int) error {
	return ErrUnsupported
}

func DetectTimedMode() TimedMode {
	return TimedUnsupported
}

func (s *Semaphore) Path() string { return "" }
func (s *Semaphore) Post() error { return ErrUnsupported }
func (s *Semaphore) Wait() error { return ErrUnsupported }
func (s *Semaphore) TryWait() bool { return false }
func (s *Semaphore) TimedWait(sec, nsec int64) (bool, error) { return false, ErrUnsupported }
func (s *Semaphore) Value() uint32 { return 0 }
func (s *Semaphore) Dup() *Semaphore { return s }
func (s *Semaphore) Close() error { return nil }
