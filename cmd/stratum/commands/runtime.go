package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stratum/pkg/blobstore"
	"github.com/openfroyo/stratum/pkg/config"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/process"
	"github.com/openfroyo/stratum/pkg/store"
	"github.com/openfroyo/stratum/pkg/telemetry"
)

// runtime is everything a command needs, built once from configuration.
type runtime struct {
	cfg       *config.File
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	store     *store.SQLiteStore
	proc      *process.Process
}

// setup loads configuration and builds the process-wide state. overrides
// carry flag values keyed by dotted config path.
func setup(cmd *cobra.Command, overrides map[string]interface{}) (*runtime, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx, config.LoadOptions{Path: configPath, Overrides: overrides})
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if cfg.Telemetry.Metrics.Enabled && cfg.Telemetry.Metrics.ListenAddress != "" {
		go func() {
			if err := tel.StartMetricsServer(ctx); err != nil {
				log.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	// config decides format and output from here on; LOG_LEVEL still caps the level
	logger := tel.Logger.Zerolog()
	log.Logger = logger
	rt := &runtime{cfg: cfg, telemetry: tel, logger: logger}

	var storage process.Storage
	if cfg.Store.Enabled {
		s, err := store.Open(ctx, store.Config{Path: cfg.Store.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		rt.store = s
		storage = s
	}

	rt.proc = process.New(process.Options{
		Storage: storage,
		Logger:  &logger,
		// aborts agent task waits once the command is interrupted
		Checkpoint: func(ctx context.Context) error { return ctx.Err() },
	})
	return rt, nil
}

func (r *runtime) Close(ctx context.Context) {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if err := r.telemetry.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
}

// requireStore fails when the store is disabled in configuration.
func (r *runtime) requireStore() (*store.SQLiteStore, error) {
	if r.store == nil {
		return nil, fault.NewInvalidArgument("the store is disabled; set store.enabled and store.path", nil)
	}
	return r.store, nil
}

// blobstore builds the configured blobstore with its decorators.
func (r *runtime) blobstore() (blobstore.Client, error) {
	bc := r.cfg.Blobstore
	if bc.Path == "" {
		return nil, fault.NewInvalidArgument("no blobstore configured; set blobstore.path", nil)
	}

	local, err := blobstore.NewLocal(bc.Path)
	if err != nil {
		return nil, err
	}
	var c blobstore.Client = local
	if bc.Verify {
		digests, err := blobstore.NewFileDigests(filepath.Join(bc.Path, ".digests"))
		if err != nil {
			return nil, err
		}
		c = blobstore.WithVerification(c, digests)
	}
	c = blobstore.WithRetry(c, blobstore.RetryPolicy{MaxAttempts: bc.MaxAttempts}, r.logger)
	return blobstore.WithMetrics(c, r.telemetry.Metrics), nil
}

// parseJSONArgs decodes a JSON array of positional arguments. Blank input
// means no arguments.
func parseJSONArgs(s string) ([]interface{}, error) {
	if s == "" {
		return []interface{}{}, nil
	}
	var args []interface{}
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, fault.NewInvalidArgument("arguments must be a JSON array", err)
	}
	return args, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
