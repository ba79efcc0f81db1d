package tokenstore

import (
	"context"
	"errors"
)

// StorageKey is the well-known name of the slot holding the token set.
const StorageKey = "authTokens"

var (
	// ErrNotFound is returned by Read when the slot is absent or empty.
	ErrNotFound = errors.New("no stored tokens")
	// ErrReadOnly is returned by backends that cannot be written.
	ErrReadOnly = errors.New("token storage is read-only")
)

// TokenStore reads and writes a single serialized token set.
type TokenStore interface {
	// Read returns the stored value, or ErrNotFound if there is none.
	Read(ctx context.Context) (string, error)

	// Write replaces the stored value.
	Write(ctx context.Context, value string) error

	// Delete removes the stored value. Deleting a missing value is not an error.
	Delete(ctx context.Context) error
}
