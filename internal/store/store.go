// Package store provides the durable key/value slot used to carry pending
// messages across a host reload. Implementations exist for the local
// filesystem and for memory.
package store

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Iron-Ham/webpair/internal/errors"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// Store provides key-value persistence operations.
type Store interface {
	// Save persists data with the given key. If the key already exists,
	// the data is overwritten.
	Save(ctx context.Context, key string, data []byte) error

	// Load retrieves data for the given key.
	// Returns ErrNotFound if the key does not exist.
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes the data associated with the given key.
	// Returns ErrNotFound if the key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns all keys matching the given prefix.
	// An empty prefix returns all keys.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if a key exists without loading its data.
	Exists(ctx context.Context, key string) (bool, error)
}

// validateKey rejects keys that would escape the store root.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", errors.ErrInvalidInput)
	}
	clean := path.Clean(key)
	if clean != key || strings.HasPrefix(clean, "/") || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: key %q is not a clean relative path", errors.ErrInvalidInput, key)
	}
	return nil
}
