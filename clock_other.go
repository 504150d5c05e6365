//go:build !linux && !darwin

package rtsync

import "time"

// Only wall-clock time is reachable here.
func probeClock(c Clock) bool {
	return c == ClockRealtime
}

func readClock(Clock) Deadline {
	return timeToDeadline(time.Now())
}
