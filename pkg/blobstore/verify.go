package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/openfroyo/stratum/pkg/fault"
)

const digestPrefix = "blake3:"

// Digest is a BLAKE3 content digest in "blake3:<hex>" form.
type Digest string

// ComputeDigest hashes data.
func ComputeDigest(data []byte) Digest {
	sum := blake3.Sum256(data)
	return Digest(digestPrefix + hex.EncodeToString(sum[:]))
}

// ParseDigest validates the textual form of a digest.
func ParseDigest(s string) (Digest, error) {
	hexPart, ok := strings.CutPrefix(strings.TrimSpace(s), digestPrefix)
	if !ok {
		return "", fault.NewInvalidArgument(fmt.Sprintf("digest %q is not a %s digest", s, strings.TrimSuffix(digestPrefix, ":")), nil)
	}
	raw, err := hex.DecodeString(hexPart)
	if err != nil || len(raw) != 32 {
		return "", fault.NewInvalidArgument(fmt.Sprintf("malformed digest %q", s), err)
	}
	return Digest(digestPrefix + hexPart), nil
}

// Verify checks data against d.
func (d Digest) Verify(data []byte) error {
	actual := ComputeDigest(data)
	if actual != d {
		return fault.NewCloud("blob digest mismatch", true, nil).
			WithDetail("expected", string(d)).
			WithDetail("actual", string(actual))
	}
	return nil
}

// Digests records the digest of each verified blob.
type Digests interface {
	Put(ctx context.Context, id string, d Digest) error
	// Get returns ResourceNotFound when no digest is recorded.
	Get(ctx context.Context, id string) (Digest, error)
	Delete(ctx context.Context, id string) error
}

// MemoryDigests keeps digests in memory.
type MemoryDigests struct {
	mu      sync.RWMutex
	digests map[string]Digest
}

// NewMemoryDigests returns an empty in-memory digest record.
func NewMemoryDigests() *MemoryDigests {
	return &MemoryDigests{digests: make(map[string]Digest)}
}

func (m *MemoryDigests) Put(_ context.Context, id string, d Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digests[id] = d
	return nil
}

func (m *MemoryDigests) Get(_ context.Context, id string) (Digest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.digests[id]
	if !ok {
		return "", fault.NewNotFound(fmt.Sprintf("no digest recorded for blob %q", id), nil)
	}
	return d, nil
}

func (m *MemoryDigests) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.digests, id)
	return nil
}

// FileDigests keeps one "<id>.blake3" file per blob in a directory, so
// digests survive restarts alongside a Local blobstore.
type FileDigests struct {
	dir string
}

// NewFileDigests uses dir, creating it if needed.
func NewFileDigests(dir string) (*FileDigests, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create digest directory: %w", err)
	}
	return &FileDigests{dir: dir}, nil
}

func (f *FileDigests) path(id string) string {
	return filepath.Join(f.dir, id+".blake3")
}

func (f *FileDigests) Put(_ context.Context, id string, d Digest) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.WriteFile(f.path(id), []byte(d+"\n"), 0o640); err != nil {
		return fault.NewCloud(fmt.Sprintf("failed to record digest of blob %q", id), true, err)
	}
	return nil
}

func (f *FileDigests) Get(_ context.Context, id string) (Digest, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fault.NewNotFound(fmt.Sprintf("no digest recorded for blob %q", id), nil)
	}
	if err != nil {
		return "", fault.NewCloud(fmt.Sprintf("failed to read digest of blob %q", id), true, err)
	}
	return ParseDigest(string(raw))
}

func (f *FileDigests) Delete(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.Remove(f.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.NewCloud(fmt.Sprintf("failed to remove digest of blob %q", id), true, err)
	}
	return nil
}

// Verifying records a digest on Create and checks it on Get.
type Verifying struct {
	next    Client
	digests Digests
}

// WithVerification wraps c. A nil digests record keeps digests in memory.
func WithVerification(c Client, digests Digests) *Verifying {
	if digests == nil {
		digests = NewMemoryDigests()
	}
	return &Verifying{next: c, digests: digests}
}

// Get returns the blob after checking it against its recorded digest.
// Blobs created outside this client have no digest and are rejected.
func (v *Verifying) Get(ctx context.Context, id string) ([]byte, error) {
	d, err := v.digests.Get(ctx, id)
	if err != nil {
		if fault.IsNotFound(err) {
			if ok, existsErr := v.next.Exists(ctx, id); existsErr == nil && !ok {
				return nil, notFound(id)
			}
			return nil, fault.NewCloud(fmt.Sprintf("blob %q has no recorded digest", id), false, err)
		}
		return nil, err
	}
	return v.GetVerified(ctx, id, d)
}

// GetVerified returns the blob after checking it against d.
func (v *Verifying) GetVerified(ctx context.Context, id string, d Digest) ([]byte, error) {
	data, err := v.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.Verify(data); err != nil {
		if f, ok := fault.As(err); ok {
			f.WithOperation("get").WithDetail("blob_id", id)
		}
		return nil, err
	}
	return data, nil
}

// Create stores data and records its digest.
func (v *Verifying) Create(ctx context.Context, data []byte) (string, error) {
	id, err := v.next.Create(ctx, data)
	if err != nil {
		return "", err
	}
	if err := v.digests.Put(ctx, id, ComputeDigest(data)); err != nil {
		_ = v.next.Delete(ctx, id)
		return "", err
	}
	return id, nil
}

// Delete removes the blob and its digest.
func (v *Verifying) Delete(ctx context.Context, id string) error {
	if err := v.next.Delete(ctx, id); err != nil {
		return err
	}
	return v.digests.Delete(ctx, id)
}

// Exists delegates to the wrapped client.
func (v *Verifying) Exists(ctx context.Context, id string) (bool, error) {
	return v.next.Exists(ctx, id)
}
