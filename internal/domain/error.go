package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("could not read database row")

	// Inference pipeline errors
	ErrModelTimeout  = errors.New("model call timed out")
	ErrModelCall     = errors.New("model call failed")
	ErrTransaction   = errors.New("write transaction failed")
	ErrConfiguration = errors.New("configuration error")

	// ErrLockHeld is returned when another worker owns a conversation lock.
	ErrLockHeld = errors.New("lock held by another worker")
)
