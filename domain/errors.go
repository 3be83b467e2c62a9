package domain

import "errors"

// ErrConcurrencyConflict indicates that the underlying storage rejected an
// update because a newer version of the entity is already persisted.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrStaleCommand is returned when a command is older than the stored order.
var ErrStaleCommand = errors.New("stale command")

// ErrOrderExists is returned when creating an order whose id is taken.
var ErrOrderExists = errors.New("order already exists")

// ErrOrderNotFound is returned when a command targets a missing order.
var ErrOrderNotFound = errors.New("order not found")

// ErrInvalidCommand is returned for commands that can never be applied.
var ErrInvalidCommand = errors.New("invalid command")
