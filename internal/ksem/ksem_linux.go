//go:build linux

package ksem

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
	"golang.org/x/sys/unix"
)

const (
	segmentSize    = 32
	nwaitersShift  = 32
	oneWaiter      = uint64(1) << nwaitersShift
	dropWaiter     = ^(oneWaiter - 1) // two's complement of oneWaiter
	tempNameTries  = 64
	tempNameLength = 6
)

// segment mirrors the 64-bit sem_t: count and waiter count packed in one
// word, followed by the futex private flag (0 for process-shared).
type segment struct {
	data    atomic.Uint64
	private uint32
	_       [segmentSize - 12]byte
}

func segmentAt(mem []byte) *segment {
	return (*segment)(unsafe.Pointer(&mem[0]))
}

// word is the futex word: the count half of data.
func (s *segment) word() *uint32 {
	p := unsafe.Pointer(&s.data)
	if cpu.IsBigEndian {
		p = unsafe.Add(p, 4)
	}
	return (*uint32)(p)
}

func (s *segment) value() uint32 {
	return uint32(s.data.Load())
}

func (s *segment) tryWait() bool {
	for {
		d := s.data.Load()
		if uint32(d) == 0 {
			return false
		}
		if s.data.CompareAndSwap(d, d-1) {
			return true
		}
	}
}

func (s *segment) post() error {
	for {
		d := s.data.Load()
		if uint32(d) >= ValueMax {
			return os.NewSyscallError("sem_post", unix.EOVERFLOW)
		}
		if s.data.CompareAndSwap(d, d+1) {
			if d>>nwaitersShift == 0 {
				return nil
			}
			if _, errno := futexWake(s.word(), 1); errno != 0 {
				return os.NewSyscallError("futex", errno)
			}
			return nil
		}
	}
}

// wait decrements the count, blocking until it is positive or the
// deadline passes. Interrupted waits are retried against the same
// deadline.
func (s *segment) wait(deadline *unix.Timespec) (bool, error) {
	if s.tryWait() {
		return true, nil
	}
	d := s.data.Add(oneWaiter)
	for {
		if uint32(d) == 0 {
			switch errno := futexWait(s.word(), 0, deadline); errno {
			case 0, unix.EAGAIN, unix.EINTR:
			case unix.ETIMEDOUT:
				s.data.Add(dropWaiter)
				return false, nil
			default:
				s.data.Add(dropWaiter)
				return false, os.NewSyscallError("futex", errno)
			}
			d = s.data.Load()
			continue
		}
		// Take one unit and unregister in the same step.
		if s.data.CompareAndSwap(d, d-1-oneWaiter) {
			return true, nil
		}
		d = s.data.Load()
	}
}

// Semaphore is one process-local handle to a named semaphore.
type Semaphore struct {
	m      *mapping
	path   string
	closed atomic.Bool
}

// Create opens the semaphore named name in dir, creating it with the
// given permission bits (filtered by the umask) and initial count when
// it does not exist yet. An existing semaphore keeps its count.
func Create(dir, name string, perm os.FileMode, value uint32) (*Semaphore, error) {
	if value > ValueMax {
		return nil, os.NewSyscallError("sem_open", unix.EINVAL)
	}
	path := Path(dir, name)
	for {
		s, err := open(path)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, unix.ENOENT) {
			return nil, err
		}
		tmp, err := writeTemp(filepath.Dir(path), perm, value)
		if err != nil {
			return nil, err
		}
		err = unix.Link(tmp, path)
		_ = unix.Unlink(tmp)
		if err != nil && err != unix.EEXIST {
			return nil, os.NewSyscallError("link", err)
		}
		// Either ours went in or another creator won; open whichever is there.
	}
}

// Open opens an existing semaphore.
func Open(dir, name string) (*Semaphore, error) {
	return open(Path(dir, name))
}

func open(path string) (*Semaphore, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("open", err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, os.NewSyscallError("fstat", err)
	}
	if st.Size < segmentSize {
		return nil, os.NewSyscallError("open", unix.EINVAL)
	}
	m, err := mappings.acquire(fileID{dev: uint64(st.Dev), ino: uint64(st.Ino)}, fd)
	if err != nil {
		return nil, err
	}
	return &Semaphore{m: m, path: path}, nil
}

// writeTemp writes an initialized segment to a fresh file next to the
// final name, so the semaphore only becomes visible fully formed.
func writeTemp(dir string, perm os.FileMode, value uint32) (string, error) {
	var buf [segmentSize]byte
	binary.NativeEndian.PutUint64(buf[:8], uint64(value))

	for range tempNameTries {
		tmp := filepath.Join(dir, filePrefix+tempSuffix())
		fd, err := unix.Open(tmp, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, uint32(perm.Perm()))
		if err == unix.EEXIST {
			continue
		}
		if err != nil {
			return "", os.NewSyscallError("open", err)
		}
		err = writeFull(fd, buf[:])
		if cerr := unix.Close(fd); err == nil && cerr != nil {
			err = os.NewSyscallError("close", cerr)
		}
		if err != nil {
			_ = unix.Unlink(tmp)
			return "", err
		}
		return tmp, nil
	}
	return "", os.NewSyscallError("open", unix.EEXIST)
}

func writeFull(fd int, p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("write", err)
		}
		p = p[n:]
	}
	return nil
}

func tempSuffix() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var b [tempNameLength]byte
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b[:]) + "." + strconv.Itoa(os.Getpid())
}

// Unlink removes the semaphore name. Open handles stay usable.
func Unlink(dir, name string) error {
	if err := unix.Unlink(Path(dir, name)); err != nil {
		return os.NewSyscallError("unlink", err)
	}
	return nil
}

// Widen relaxes the permissions of the backing file so other users can
// open it: group read/write for gid, or read/write for everyone when gid
// is negative.
func Widen(path string, gid int) error {
	mode := uint32(0o660)
	if gid < 0 {
		mode |= 0o006
	} else if err := unix.Chown(path, -1, gid); err != nil {
		return os.NewSyscallError("chown", err)
	}
	if err := unix.Chmod(path, mode); err != nil {
		return os.NewSyscallError("chmod", err)
	}
	return nil
}

// Path returns the backing file of the handle.
func (s *Semaphore) Path() string {
	return s.path
}

// Post increments the count, waking at most one waiter.
func (s *Semaphore) Post() error {
	return s.m.seg.post()
}

// Wait blocks until the count is positive and decrements it.
func (s *Semaphore) Wait() error {
	_, err := s.m.seg.wait(nil)
	return err
}

// TryWait decrements the count if it is positive.
func (s *Semaphore) TryWait() bool {
	return s.m.seg.tryWait()
}

// TimedWait is Wait bounded by an absolute CLOCK_REALTIME deadline.
// It returns false when the deadline passes first.
func (s *Semaphore) TimedWait(sec, nsec int64) (bool, error) {
	ts := unix.NsecToTimespec(sec*1e9 + nsec)
	return s.m.seg.wait(&ts)
}

// Value returns the current count.
func (s *Semaphore) Value() uint32 {
	return s.m.seg.value()
}

// Dup returns another handle sharing the same mapping.
func (s *Semaphore) Dup() *Semaphore {
	if mappings.retain(s.m.id, s.m) == nil {
		// s holds a reference, so the entry cannot be gone.
		panic("ksem: dup of a released semaphore")
	}
	return &Semaphore{m: s.m, path: s.path}
}

// Close releases the handle. The mapping is unmapped with the last handle
// of the process; the name is left alone.
func (s *Semaphore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return mappings.release(s.m)
}
