package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/openfroyo/stratum/pkg/fault"
)

// Local stores blobs as files in one directory.
type Local struct {
	dir string
}

// NewLocal creates the directory if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fault.NewInvalidArgument("blobstore directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blobstore directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(id string) string {
	return filepath.Join(l.dir, id)
}

// Get reads a blob.
func (l *Local) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fault.NewCloud(fmt.Sprintf("failed to read blob %q", id), true, err)
	}
	return data, nil
}

// Create writes data under a new UUID. The blob becomes visible
// atomically.
func (l *Local) Create(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()

	tmp, err := os.CreateTemp(l.dir, ".blob-*")
	if err != nil {
		return "", fault.NewCloud("failed to create blob", true, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fault.NewCloud("failed to write blob", true, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fault.NewCloud("failed to sync blob", true, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fault.NewCloud("failed to write blob", true, err)
	}
	if err := os.Rename(tmp.Name(), l.path(id)); err != nil {
		return "", fault.NewCloud("failed to store blob", true, err)
	}
	return id, nil
}

// Delete removes a blob.
func (l *Local) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(l.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(id)
	}
	if err != nil {
		return fault.NewCloud(fmt.Sprintf("failed to delete blob %q", id), true, err)
	}
	return nil
}

// Exists reports whether a blob file is present.
func (l *Local) Exists(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fault.NewCloud(fmt.Sprintf("failed to stat blob %q", id), true, err)
	}
	return true, nil
}
