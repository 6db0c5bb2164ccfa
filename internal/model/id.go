package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as a worker identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewCorrelationID mints an opaque identifier reserved for future
// cross-worker coordination. No protocol behavior is attached to it.
func NewCorrelationID() string {
	return uuid.NewString()
}
