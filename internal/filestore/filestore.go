// Package filestore persists files collected from devices. Two backends
// exist: a local directory for development and single-node deployments,
// and a Google Cloud Storage bucket for everything else.
package filestore

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by DownloadLink when no file exists under a key.
var ErrNotFound = errors.New("filestore: object not found")

// Store is a write-once blob store keyed by opaque string keys.
// Keys are slash-separated, e.g. "tenant/operation-id".
type Store interface {
	// Upload streams body into the object at key, replacing any
	// previous content.
	Upload(ctx context.Context, key string, body io.Reader) error

	// Delete removes the object at key. Deleting a missing object is
	// not an error.
	Delete(ctx context.Context, key string) error

	// DownloadLink returns a URL from which the object at key can be
	// fetched until expiry.
	DownloadLink(ctx context.Context, key string, expiry time.Duration) (string, error)

	Close() error
}
