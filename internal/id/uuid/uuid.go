// Package uuid issues time-ordered identifiers for runs.
package uuid

import (
	"github.com/google/uuid"
)

// NewRunID returns a UUIDv7 so run ids sort by start time. If the v7
// generator fails it falls back to a random v4 id.
func NewRunID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
