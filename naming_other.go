//go:build !darwin

package rtsync

// MaxNameSize leaves room for the "sem." prefix of the backing file
// within NAME_MAX.
const (
	shortNames  = false
	MaxNameSize = 251
)
