package rtsync

// Kernel semaphore names are limited to PSEMNAMLEN (31) bytes here.
const (
	shortNames  = true
	MaxNameSize = 31
)
