package rtsync

import (
	"strconv"
	"sync"
	"time"
)

// Clock identifies the time source deadlines are computed on.
type Clock uint8

const (
	// ClockMonotonicRaw is the hardware monotonic clock, not slewed by NTP.
	ClockMonotonicRaw Clock = iota
	// ClockMonotonic is the monotonic clock.
	ClockMonotonic
	// ClockRealtime is wall-clock time.
	ClockRealtime
)

func (c Clock) String() string {
	switch c {
	case ClockMonotonicRaw:
		return "monotonic-raw"
	case ClockMonotonic:
		return "monotonic"
	case ClockRealtime:
		return "realtime"
	default:
		return "clock(" + strconv.Itoa(int(c)) + ")"
	}
}

const (
	nsecPerSec  = 1_000_000_000
	usecPerSec  = 1_000_000
	nsecPerUsec = 1_000
)

// Deadline is an absolute instant on one Clock.
type Deadline struct {
	Sec  int64
	Nsec int64 // always in [0, 1e9)
}

// normalize carries nanosecond overflow into seconds, and borrows for
// negative nanoseconds.
func (d Deadline) normalize() Deadline {
	if d.Nsec >= nsecPerSec || d.Nsec <= -nsecPerSec {
		d.Sec += d.Nsec / nsecPerSec
		d.Nsec %= nsecPerSec
	}
	if d.Nsec < 0 {
		d.Sec--
		d.Nsec += nsecPerSec
	}
	return d
}

// Add returns d shifted by usec microseconds.
func (d Deadline) Add(usec int64) Deadline {
	return Deadline{
		Sec:  d.Sec + usec/usecPerSec,
		Nsec: d.Nsec + (usec%usecPerSec)*nsecPerUsec,
	}.normalize()
}

// Sub returns d-o.
func (d Deadline) Sub(o Deadline) time.Duration {
	return time.Duration((d.Sec-o.Sec)*nsecPerSec + (d.Nsec - o.Nsec))
}

// Before reports whether d is earlier than o.
func (d Deadline) Before(o Deadline) bool {
	return d.Sec < o.Sec || (d.Sec == o.Sec && d.Nsec < o.Nsec)
}

// Now reads the clock.
func (c Clock) Now() Deadline {
	return readClock(c)
}

// ComputeDeadline returns the instant usec microseconds from now on c.
// Call it at the wait site; a precomputed deadline drifts.
func (c Clock) ComputeDeadline(usec int64) Deadline {
	return c.Now().Add(usec)
}

// Until returns the time left before d, zero or negative once it passed.
func (c Clock) Until(d Deadline) time.Duration {
	return d.Sub(c.Now())
}

var detectedClock = sync.OnceValue(func() Clock {
	for _, c := range [...]Clock{ClockMonotonicRaw, ClockMonotonic} {
		if probeClock(c) {
			return c
		}
	}
	return ClockRealtime
})

// DetectClock returns the finest monotonic clock the platform offers,
// falling back to wall-clock time. Detection runs once per process.
func DetectClock() Clock {
	return detectedClock()
}

func timeToDeadline(t time.Time) Deadline {
	return Deadline{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}
