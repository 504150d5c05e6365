//go:build linux

package ksem

import (
	"os"
	"strconv"

	"github.com/llxisdsh/pb"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"
)

// fileID identifies a segment file independently of the name it was
// opened by.
type fileID struct {
	dev uint64
	ino uint64
}

func (id fileID) String() string {
	return strconv.FormatUint(id.dev, 10) + ":" + strconv.FormatUint(id.ino, 10)
}

// mapping is one mmap of a segment shared by every handle of this process.
type mapping struct {
	id   fileID
	mem  []byte
	seg  *segment
	refs int // guarded by the registry entry
}

// registry keeps one mapping per segment file, so repeated opens of the
// same semaphore inside a process share memory and a single munmap.
type registry struct {
	m     pb.MapOf[fileID, *mapping]
	group singleflight.Group
}

var mappings registry

// acquire returns the mapping for id with one more reference, mapping
// fd when the process holds none yet.
func (r *registry) acquire(id fileID, fd int) (*mapping, error) {
	for {
		if m := r.retain(id, nil); m != nil {
			return m, nil
		}
		v, err, _ := r.group.Do(id.String(), func() (any, error) {
			if m := r.lookup(id); m != nil {
				return m, nil
			}
			mem, err := unix.Mmap(fd, 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
			if err != nil {
				return nil, os.NewSyscallError("mmap", err)
			}
			fresh := &mapping{id: id, mem: mem, seg: segmentAt(mem)}
			var winner *mapping
			r.m.ProcessEntry(
				id,
				func(l *pb.EntryOf[fileID, *mapping]) (*pb.EntryOf[fileID, *mapping], *mapping, bool) {
					if l != nil {
						winner = l.Value
						return l, l.Value, true
					}
					winner = fresh
					return &pb.EntryOf[fileID, *mapping]{Value: fresh}, fresh, false
				},
			)
			if winner != fresh {
				_ = unix.Munmap(mem)
			}
			return winner, nil
		})
		if err != nil {
			return nil, err
		}
		// Shared results carry no reference of their own; the mapping may
		// have been dropped again before we got here, so try once more.
		if m := r.retain(id, v.(*mapping)); m != nil {
			return m, nil
		}
	}
}

func (r *registry) lookup(id fileID) *mapping {
	m, _ := r.m.ProcessEntry(
		id,
		func(l *pb.EntryOf[fileID, *mapping]) (*pb.EntryOf[fileID, *mapping], *mapping, bool) {
			if l == nil {
				return l, nil, false
			}
			return l, l.Value, true
		},
	)
	return m
}

// retain adds a reference to the mapping registered for id. When want
// is non-nil the registered mapping must be that one.
func (r *registry) retain(id fileID, want *mapping) *mapping {
	m, _ := r.m.ProcessEntry(
		id,
		func(l *pb.EntryOf[fileID, *mapping]) (*pb.EntryOf[fileID, *mapping], *mapping, bool) {
			if l == nil || (want != nil && l.Value != want) {
				return l, nil, false
			}
			l.Value.refs++
			return l, l.Value, true
		},
	)
	return m
}

// release drops one reference and unmaps the segment with the last one.
func (r *registry) release(m *mapping) error {
	var drop bool
	r.m.ProcessEntry(
		m.id,
		func(l *pb.EntryOf[fileID, *mapping]) (*pb.EntryOf[fileID, *mapping], *mapping, bool) {
			drop = false
			if l == nil || l.Value != m {
				return l, nil, false
			}
			l.Value.refs--
			if l.Value.refs > 0 {
				return l, l.Value, true
			}
			drop = true
			return nil, l.Value, true
		},
	)
	if !drop {
		return nil
	}
	if err := unix.Munmap(m.mem); err != nil {
		return os.NewSyscallError("munmap", err)
	}
	return nil
}

// refsOf reports the reference count of the mapping for id, or 0.
func (r *registry) refsOf(id fileID) int {
	var n int
	r.m.ProcessEntry(
		id,
		func(l *pb.EntryOf[fileID, *mapping]) (*pb.EntryOf[fileID, *mapping], *mapping, bool) {
			n = 0
			if l == nil {
				return l, nil, false
			}
			n = l.Value.refs
			return l, l.Value, true
		},
	)
	return n
}
