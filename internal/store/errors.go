package store

import "errors"

// ErrNotFound is wrapped by lookup methods when no row matches.
var ErrNotFound = errors.New("store: not found")
