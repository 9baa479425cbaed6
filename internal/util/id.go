package util

import "github.com/google/uuid"

// NewID returns a random UUID string for entity and request ids.
func NewID() string {
	return uuid.NewString()
}
