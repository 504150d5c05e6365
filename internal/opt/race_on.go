//go:build race

package opt

// Race reports whether the race detector is compiled in.
const Race = true

// Slack scales timing thresholds in tests; the race detector slows
// wake-ups enough to matter.
const Slack = 4
