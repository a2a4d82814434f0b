// Package process holds the configuration shared by every dispatcher,
// adapter and agent client in one process. A Process is built once at
// startup and handed to constructors explicitly; it is read-only afterwards.
package process

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stratum/pkg/opctx"
)

// IDSource assigns request ids.
type IDSource interface {
	NewID() string
}

// UUIDSource assigns random UUIDs.
type UUIDSource struct{}

// NewID returns a new UUID string.
func (UUIDSource) NewID() string {
	return uuid.NewString()
}

// SequenceSource assigns monotonically increasing ids such as "cpi-000042".
type SequenceSource struct {
	Prefix string
	next   atomic.Uint64
}

// NewSequenceSource creates a sequence starting at 1.
func NewSequenceSource(prefix string) *SequenceSource {
	return &SequenceSource{Prefix: prefix}
}

// NewID returns the next id in the sequence.
func (s *SequenceSource) NewID() string {
	return fmt.Sprintf("%s-%06d", s.Prefix, s.next.Add(1))
}

// Checkpoint is invoked while long-running work waits, giving the owner a
// chance to abort it (for example when the enclosing deployment task was
// cancelled). A non-nil error stops the wait.
type Checkpoint func(ctx context.Context) error

// CallRecord is one audited CPI call.
type CallRecord struct {
	RequestID string
	Caller    string
	Backend   string
	Operation string
	Outcome   string
	ErrorKind string
	Message   string
	StartedAt time.Time
	Duration  time.Duration
}

// Storage is the persistence handle available to dispatchers.
type Storage interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

// Options configures a Process.
type Options struct {
	Storage    Storage
	Logger     *zerolog.Logger
	IDs        IDSource
	Checkpoint Checkpoint
}

// Process is the process-wide configuration.
type Process struct {
	storage    Storage
	logger     zerolog.Logger
	ids        IDSource
	checkpoint Checkpoint
}

// New builds the process configuration, filling defaults for unset options.
func New(opts Options) *Process {
	p := &Process{
		storage:    opts.Storage,
		ids:        opts.IDs,
		checkpoint: opts.Checkpoint,
	}
	if opts.Logger != nil {
		p.logger = *opts.Logger
	} else {
		p.logger = zerolog.Nop()
	}
	if p.ids == nil {
		p.ids = UUIDSource{}
	}
	if p.checkpoint == nil {
		p.checkpoint = func(context.Context) error { return nil }
	}
	return p
}

// Storage returns the storage handle, or nil when calls are not audited.
func (p *Process) Storage() Storage {
	return p.storage
}

// Logger returns the process logger.
func (p *Process) Logger() zerolog.Logger {
	return p.logger
}

// IDs returns the request id source.
func (p *Process) IDs() IDSource {
	return p.ids
}

// Checkpoint returns the checkpoint callback. It is never nil.
func (p *Process) Checkpoint() Checkpoint {
	return p.checkpoint
}

// NewOperationContext creates a context with a fresh request id.
func (p *Process) NewOperationContext(caller string) opctx.Context {
	return opctx.New(p.ids.NewID(), caller)
}
