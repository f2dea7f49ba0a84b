// Package storage provides the key-value database abstraction behind the
// payment ledger.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// IsNotFound reports whether err means the key was absent rather than the
// read having failed.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DB is the interface for key-value storage.
type DB interface {
	// Get returns the value for key, or an error wrapping ErrNotFound.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}
