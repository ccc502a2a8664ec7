package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolMismatch is matched by every *ProtocolMismatchError.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrDecrypt means a sealed payload did not open with our ring key.
	// Usually the peers were configured with different keys.
	ErrDecrypt = errors.New("failed to decrypt payload")
	// ErrNoRingKey means an encrypted envelope arrived at a node that
	// has no ring key.
	ErrNoRingKey = errors.New("encrypted message but no ring key configured")
)

// ProtocolMismatchError reports a required field that was absent or
// malformed.
type ProtocolMismatchError struct {
	Field string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch: missing or malformed %s", e.Field)
}

func (e *ProtocolMismatchError) Is(target error) bool {
	return target == ErrProtocolMismatch
}

func mismatch(field string) error {
	return &ProtocolMismatchError{Field: field}
}
