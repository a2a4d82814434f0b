package process

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewDefaults(t *testing.T) {
	p := New(Options{})

	if p.Storage() != nil {
		t.Error("Storage() should be nil when not configured")
	}
	if p.IDs() == nil {
		t.Fatal("IDs() should default to a UUID source")
	}
	if err := p.Checkpoint()(context.Background()); err != nil {
		t.Errorf("default checkpoint returned %v", err)
	}
	if p.Logger().GetLevel() != zerolog.Disabled {
		t.Errorf("default logger level = %v, want disabled", p.Logger().GetLevel())
	}
}

func TestCheckpointIsKept(t *testing.T) {
	stop := errors.New("stop")
	p := New(Options{Checkpoint: func(context.Context) error { return stop }})
	if err := p.Checkpoint()(context.Background()); !errors.Is(err, stop) {
		t.Errorf("Checkpoint() = %v, want %v", err, stop)
	}
}

func TestSequenceSource(t *testing.T) {
	s := NewSequenceSource("cpi")
	if got := s.NewID(); got != "cpi-000001" {
		t.Errorf("first id = %q, want cpi-000001", got)
	}
	if got := s.NewID(); got != "cpi-000002" {
		t.Errorf("second id = %q, want cpi-000002", got)
	}
}

func TestRequestIDsAreUniqueUnderConcurrency(t *testing.T) {
	tests := []struct {
		name string
		ids  IDSource
	}{
		{"uuid", UUIDSource{}},
		{"sequence", NewSequenceSource("cpi")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Options{IDs: tt.ids})

			var mu sync.Mutex
			seen := make(map[string]bool)
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					oc := p.NewOperationContext("deployer")
					mu.Lock()
					defer mu.Unlock()
					if seen[oc.RequestID] {
						t.Errorf("duplicate request id %q", oc.RequestID)
					}
					seen[oc.RequestID] = true
				}()
			}
			wg.Wait()

			if len(seen) != 50 {
				t.Errorf("got %d unique ids, want 50", len(seen))
			}
		})
	}
}
