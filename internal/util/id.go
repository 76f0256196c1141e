package util

import "github.com/google/uuid"

// NewID returns a random identifier for messages, steps, flows, chats and runs.
func NewID() string {
	return uuid.NewString()
}
