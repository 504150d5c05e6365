//go:build linux || darwin

package rtsync

import (
	"time"

	"golang.org/x/sys/unix"
)

var clockIDs = [...]int32{
	ClockMonotonicRaw: unix.CLOCK_MONOTONIC_RAW,
	ClockMonotonic:    unix.CLOCK_MONOTONIC,
	ClockRealtime:     unix.CLOCK_REALTIME,
}

func probeClock(c Clock) bool {
	if int(c) >= len(clockIDs) {
		return false
	}
	var ts unix.Timespec
	return unix.ClockGettime(clockIDs[c], &ts) == nil
}

func readClock(c Clock) Deadline {
	var ts unix.Timespec
	if int(c) < len(clockIDs) && unix.ClockGettime(clockIDs[c], &ts) == nil {
		sec, nsec := ts.Unix()
		return Deadline{Sec: sec, Nsec: nsec}
	}
	return timeToDeadline(time.Now())
}
