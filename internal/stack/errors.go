package stack

import "errors"

// Common errors.
var (
	// ErrCapacityOverflow is returned when a layout is invalid or cannot be placed.
	ErrCapacityOverflow = errors.New("capacity overflow")
	// ErrRefCountUnderflow is returned when an edge is consumed more often than referenced.
	ErrRefCountUnderflow = errors.New("reference count underflow")
	// ErrInvalidFree is returned when freeing a range that is not allocated.
	ErrInvalidFree = errors.New("invalid free")
	// ErrReplayMismatch is returned when a replayed trace yields different ranges.
	ErrReplayMismatch = errors.New("replay diverged from trace")
)
