package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openfroyo/stratum/pkg/process"
)

// Settings are the opaque bootstrap settings of one instance.
type Settings struct {
	InstanceID string          `json:"instance_id"`
	Data       json.RawMessage `json:"settings"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CallFilter narrows ListCalls. Zero fields match everything.
type CallFilter struct {
	RequestID string
	Operation string
	Outcome   string
	Limit     int
}

// Store defines the persistence operations.
type Store interface {
	process.Storage

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Settings registry
	GetSettings(ctx context.Context, instanceID string) (*Settings, error)
	PutSettings(ctx context.Context, instanceID string, data []byte) error
	DeleteSettings(ctx context.Context, instanceID string) error
	ListInstances(ctx context.Context) ([]string, error)

	// Call audit
	ListCalls(ctx context.Context, filter CallFilter) ([]process.CallRecord, error)
}
