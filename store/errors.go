package store

import "github.com/pkg/errors"

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when an atomic state transition's precondition no
// longer holds (e.g. claiming a task another worker already claimed).
var ErrConflict = errors.New("store: conflict")
