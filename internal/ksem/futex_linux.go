//go:build linux

package ksem

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	cFUTEX_WAIT        = 0
	cFUTEX_WAKE        = 1
	cFUTEX_WAIT_BITSET = 9

	cFUTEX_PRIVATE_FLAG   = 128
	cFUTEX_CLOCK_REALTIME = 256

	cFutexBitsetMatchAny = 0xffffffff
)

// futex issues the raw syscall. The segment futexes are shared, so the
// private flag is only used by the capability probe.
func futex(addr *uint32, op int, val uint32, ts *unix.Timespec, val3 uint32) (int, unix.Errno) {
	r1, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(op),
		uintptr(val),
		uintptr(unsafe.Pointer(ts)),
		0,
		uintptr(val3))
	return int(r1), errno
}

// futexWait blocks while *addr == val. A nil deadline waits forever,
// otherwise the deadline is an absolute CLOCK_REALTIME instant.
func futexWait(addr *uint32, val uint32, deadline *unix.Timespec) unix.Errno {
	if deadline == nil {
		_, errno := futex(addr, cFUTEX_WAIT, val, nil, 0)
		return errno
	}
	_, errno := futex(addr, cFUTEX_WAIT_BITSET|cFUTEX_CLOCK_REALTIME, val, deadline, cFutexBitsetMatchAny)
	return errno
}

func futexWake(addr *uint32, n uint32) (int, unix.Errno) {
	return futex(addr, cFUTEX_WAKE, n, nil, 0)
}

var timedMode = sync.OnceValue(func() TimedMode {
	// The word never holds the expected value, so a kernel that knows the
	// operation answers EAGAIN straight away.
	word := uint32(1)
	var now unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &now); err != nil {
		return TimedUnsupported
	}
	_, errno := futex(&word, cFUTEX_WAIT_BITSET|cFUTEX_CLOCK_REALTIME|cFUTEX_PRIVATE_FLAG, 0, &now, cFutexBitsetMatchAny)
	switch errno {
	case unix.EAGAIN, unix.ETIMEDOUT, 0:
		return TimedAbsolute
	default:
		return TimedUnsupported
	}
})

// DetectTimedMode reports the timed-wait capability, probed once per process.
func DetectTimedMode() TimedMode {
	return timedMode()
}
