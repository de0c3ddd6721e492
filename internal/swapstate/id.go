// Package swapstate defines the algebraic swap-state types shared by the
// maker (Alice) and taker (Bob) sides of the protocol: the immutable setup
// record State3, the per-role runtime state unions, and their persisted
// projections.
package swapstate

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is the 128-bit opaque swap identifier assigned at setup.
type ID [16]byte

// NewID generates a fresh random swap id.
func NewID() ID {
	var id ID
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// String renders the id as lowercase hex, matching the original
// implementation's UUID-shaped identifier.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID parses a lowercase-hex swap id.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("swapstate: invalid swap id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("swapstate: swap id %q has wrong length %d", s, len(b))
	}
	copy(id[:], b)
	return id, nil
}
