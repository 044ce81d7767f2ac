package store

import "github.com/google/uuid"

// NewID generates a new opaque entity id.
func NewID() string {
	return uuid.NewString()
}
