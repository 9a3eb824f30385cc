// Package storage holds the errors shared by storage backends. Services map
// them onto domain error kinds.
package storage

import "errors"

var (
	// ErrNotFound means the addressed row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict means a uniqueness constraint rejected the write.
	ErrConflict = errors.New("storage: unique constraint violation")
	// ErrConditionFailed means a conditional update matched no row.
	ErrConditionFailed = errors.New("storage: condition not met")
)
