package rtsync

import (
	"os"
	"os/user"
	"strconv"

	"github.com/llxisdsh/rtsync/internal/ksem"
)

// PromiscuousEnv names the environment variable that turns on the
// multi-user mode of ProcessSync. Its value, when not empty, is the group
// (name or numeric id) the kernel objects are shared with.
const PromiscuousEnv = "JACK_PROMISCUOUS_SERVER"

// noGroup means no group change: promiscuous objects become world
// accessible instead.
const noGroup = -1

// ============================================================================
// Configuration
// ============================================================================

// Config holds the construction options of ThreadSync and ProcessSync.
// Options that do not apply to a type are ignored by it.
type Config struct {
	// reporter receives error and debug lines. Nil means DefaultReporter.
	reporter Reporter

	// clock overrides clock detection for ThreadSync timed waits.
	clock    Clock
	hasClock bool

	// naming is the kernel-name policy of ProcessSync.
	naming    Naming
	hasNaming bool

	// dir is the namespace directory holding ProcessSync objects.
	dir string

	// promiscuous overrides the environment.
	promiscuous    bool
	hasPromiscuous bool

	// gid is the group promiscuous objects are widened to.
	gid    int
	hasGid bool

	// uid scopes non-promiscuous names.
	uid    int
	hasUID bool
}

// WithReporter sends diagnostics to r.
func WithReporter(r Reporter) func(*Config) {
	return func(c *Config) {
		c.reporter = r
	}
}

// WithClock pins the clock ThreadSync computes deadlines on, skipping
// detection. Mostly useful in tests.
func WithClock(clock Clock) func(*Config) {
	return func(c *Config) {
		c.clock = clock
		c.hasClock = true
	}
}

// WithNaming replaces the platform naming policy.
func WithNaming(n Naming) func(*Config) {
	return func(c *Config) {
		c.naming = n
		c.hasNaming = true
	}
}

// WithDir places kernel objects in dir instead of the platform namespace
// directory (/dev/shm).
func WithDir(dir string) func(*Config) {
	return func(c *Config) {
		c.dir = dir
	}
}

// WithPromiscuous forces multi-user mode on or off, ignoring the
// environment.
func WithPromiscuous(on bool) func(*Config) {
	return func(c *Config) {
		c.promiscuous = on
		c.hasPromiscuous = true
	}
}

// WithGroup sets the group promiscuous objects are shared with. A
// negative gid shares them with everyone.
func WithGroup(gid int) func(*Config) {
	return func(c *Config) {
		c.gid = gid
		c.hasGid = true
	}
}

// WithUID sets the user identity embedded in scoped names.
func WithUID(uid int) func(*Config) {
	return func(c *Config) {
		c.uid = uid
		c.hasUID = true
	}
}

func newConfig(opts []func(*Config)) *Config {
	c := &Config{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.reporter == nil {
		c.reporter = DefaultReporter
	}
	if !c.hasNaming {
		c.naming = DefaultNaming()
	}
	if c.dir == "" {
		c.dir = ksem.DefaultDir
	}
	if !c.hasUID {
		c.uid = os.Getuid()
	}
	if !c.hasPromiscuous || !c.hasGid {
		group, set := os.LookupEnv(PromiscuousEnv)
		if !c.hasPromiscuous {
			c.promiscuous = set
		}
		if !c.hasGid {
			c.gid = lookupGroup(group)
		}
	}
	return c
}

// lookupGroup resolves a group name or numeric id, noGroup when it is
// empty or unknown.
func lookupGroup(group string) int {
	if group == "" {
		return noGroup
	}
	if gid, err := strconv.Atoi(group); err == nil && gid >= 0 {
		return gid
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return noGroup
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return noGroup
	}
	return gid
}
