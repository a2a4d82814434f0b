// Package blobstore stores opaque blobs such as stemcell images and
// compiled packages. Backends implement Client; integrity verification,
// retries and instrumentation are decorators that wrap any backend:
//
//	var c blobstore.Client
//	c, err = blobstore.NewLocal("/var/vcap/store/blobs")
//	c = blobstore.WithVerification(c, blobstore.NewFileDigests(dir))
//	c = blobstore.WithRetry(c, blobstore.RetryPolicy{MaxAttempts: 3}, logger)
//
// Missing blobs fail with ResourceNotFound. I/O failures are CloudErrors
// flagged retryable.
package blobstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/stratum/pkg/fault"
)

// Client is a blobstore backend.
type Client interface {
	// Get returns the blob's content.
	Get(ctx context.Context, id string) ([]byte, error)

	// Create stores data under a new id and returns it.
	Create(ctx context.Context, data []byte) (string, error)

	// Delete removes a blob.
	Delete(ctx context.Context, id string) error

	// Exists reports whether a blob is stored.
	Exists(ctx context.Context, id string) (bool, error)
}

// ValidateID rejects ids that could escape a backend's namespace.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fault.NewInvalidArgument("blob id is required", nil)
	case id == "." || id == "..", strings.ContainsAny(id, `/\`), strings.HasPrefix(id, "."):
		return fault.NewInvalidArgument(fmt.Sprintf("invalid blob id %q", id), nil)
	}
	return nil
}

func notFound(id string) error {
	return fault.NewNotFound(fmt.Sprintf("blob %q not found", id), nil)
}
