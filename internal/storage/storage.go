// Package storage defines the content store that holds raw inbound messages.
package storage

import (
	"context"
	"errors"

	"github.com/shineum/ses-forwarder/internal/domain"
)

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Store retrieves raw messages by bucket and key.
type Store interface {
	// Get returns the stored bytes. A missing object yields an error wrapping
	// ErrNotFound.
	Get(ctx context.Context, bucket string, key domain.StorageKey) ([]byte, error)
}

// Writer stores raw messages. The local inbound receiver uses it to play the
// part of the SES receipt rule.
type Writer interface {
	Put(ctx context.Context, bucket string, key domain.StorageKey, raw []byte) error
}

// ReadWriter is a Store that can also write.
type ReadWriter interface {
	Store
	Writer
}
