package hanoidb

import "errors"

// ErrNotFound is returned by Get when no live entry exists for a key
// (absent, or shadowed by a tombstone).
var ErrNotFound = errors.New("hanoidb: key not found")

// ErrInvariantViolation marks a structural impossibility the engine
// detected in its own on-disk state, such as a PosLen pointer surfacing
// where a leaf entry was expected.
var ErrInvariantViolation = errors.New("hanoidb: invariant violation")
