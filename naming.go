package rtsync

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultPrefix starts every long-form kernel name.
	DefaultPrefix = "jack_sem"
	// DefaultShortPrefix starts short-form names.
	DefaultShortPrefix = "js"
)

// Naming is the policy deriving kernel-visible names.
//
// The name is the only rendezvous between otherwise unrelated processes,
// so it must be deterministic. Scoped names embed the user id and keep the
// servers of different users apart; promiscuous names leave it out.
type Naming struct {
	Prefix      string
	ShortPrefix string
	// MaxLen bounds the name in bytes.
	MaxLen int
	// Short selects the "ShortPrefix_client" form for platforms with tiny
	// name limits. Server name and uid are dropped, so two servers may
	// collide there.
	Short bool
}

// DefaultNaming returns the policy of the running platform.
func DefaultNaming() Naming {
	return Naming{
		Prefix:      DefaultPrefix,
		ShortPrefix: DefaultShortPrefix,
		MaxLen:      MaxNameSize,
		Short:       shortNames,
	}
}

// SanitizeName replaces the characters a kernel namespace would read as
// path separators.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
}

// BuildName derives the kernel name for a client of a server.
func (n Naming) BuildName(client, server string, promiscuous bool, uid int) string {
	client = SanitizeName(client)
	var b strings.Builder
	switch {
	case n.Short:
		b.WriteString(n.ShortPrefix)
		b.WriteByte('_')
	case promiscuous:
		b.WriteString(n.Prefix)
		b.WriteByte('.')
		b.WriteString(server)
		b.WriteByte('_')
	default:
		b.WriteString(n.Prefix)
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(uid))
		b.WriteByte('_')
		b.WriteString(server)
		b.WriteByte('_')
	}
	b.WriteString(client)
	return truncate(b.String(), n.MaxLen)
}

// BuildName derives a kernel name with the platform policy.
func BuildName(client, server string, promiscuous bool, uid int) string {
	return DefaultNaming().BuildName(client, server, promiscuous, uid)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
