package internal

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string drawn from random, or from
// crypto/rand when random is nil.
func NewID(random io.Reader) (string, error) {
	if random == nil {
		random = rand.Reader
	}
	id, err := uuid.NewRandomFromReader(random)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// IsID reports whether s is a canonical UUID string.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
