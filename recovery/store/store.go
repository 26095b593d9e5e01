// Package store persists the power-loss record on non-volatile media.
//
// A Store holds at most one record. The recovery controller rewrites it from
// offset zero on every snapshot, reads it once at boot, and removes it when
// the job completes or the record is found to be invalid.
package store

import "errors"

var (
	ErrNotMounted = errors.New("store: volume not mounted")
	ErrNoRecord   = errors.New("store: no record")
	ErrReadOnly   = errors.New("store: record opened for reading")
	ErrTooLarge   = errors.New("store: record too large")
)

// Volume is the medium a store lives on
type Volume interface {
	Mounted() bool
	Mount() error
}

// Store is a single-record persistent store
type Store interface {
	Volume

	// Exists reports whether a record is present
	Exists() (bool, error)

	// Open opens the record for reading or for a full rewrite. Opening for
	// reading fails with ErrNoRecord when none exists.
	Open(forRead bool) (Record, error)

	// Remove deletes the record. An absent record is not an error.
	Remove() error
}

// Record is an open handle on the stored record
type Record interface {
	SeekToStart() error
	WriteAll(p []byte) error
	ReadAll(maxLen int) ([]byte, error)
	Close() error
}
