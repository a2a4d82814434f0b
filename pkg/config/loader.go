package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STRATUM"

//go:embed config_schema.cue
var configSchema string

var validate = validator.New()

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// Path is the configuration file. Empty uses defaults and environment.
	Path string

	// Overrides are applied last, keyed by dotted path such as
	// "provider.name". The CLI uses them for flags.
	Overrides map[string]interface{}
}

// Load reads the configuration file, applies environment overrides and
// explicit overrides, and validates the result.
func Load(ctx context.Context, opts LoadOptions) (*File, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultFile())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := opts.Path
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg File
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if path != "" {
		if err := restoreVerbatimMaps(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *File) {
	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.executable_path", d.Provider.ExecutablePath)
	v.SetDefault("provider.timeout", d.Provider.Timeout)
	v.SetDefault("provider.grace_period", d.Provider.GracePeriod)

	v.SetDefault("agent.endpoint", d.Agent.Endpoint)
	v.SetDefault("agent.username", d.Agent.Username)
	v.SetDefault("agent.password", d.Agent.Password)
	v.SetDefault("agent.request_timeout", d.Agent.RequestTimeout)
	v.SetDefault("agent.max_attempts", d.Agent.MaxAttempts)
	v.SetDefault("agent.initial_interval", d.Agent.InitialInterval)
	v.SetDefault("agent.max_interval", d.Agent.MaxInterval)
	v.SetDefault("agent.poll_interval", d.Agent.PollInterval)
	v.SetDefault("agent.poll_multiplier", d.Agent.PollMultiplier)
	v.SetDefault("agent.poll_max_interval", d.Agent.PollMaxInterval)
	v.SetDefault("agent.task_timeout", d.Agent.TaskTimeout)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("blobstore.path", d.Blobstore.Path)
	v.SetDefault("blobstore.verify", d.Blobstore.Verify)
	v.SetDefault("blobstore.max_attempts", d.Blobstore.MaxAttempts)

	t := d.Telemetry
	v.SetDefault("telemetry.service_name", t.ServiceName)
	v.SetDefault("telemetry.service_version", t.ServiceVersion)
	v.SetDefault("telemetry.environment", t.Environment)
	v.SetDefault("telemetry.logging.level", t.Logging.Level)
	v.SetDefault("telemetry.logging.format", t.Logging.Format)
	v.SetDefault("telemetry.logging.output", t.Logging.Output)
	v.SetDefault("telemetry.logging.enable_caller", t.Logging.EnableCaller)
	v.SetDefault("telemetry.logging.enable_sampling", t.Logging.EnableSampling)
	v.SetDefault("telemetry.logging.sampling_initial", t.Logging.SamplingInitial)
	v.SetDefault("telemetry.logging.sampling_thereafter", t.Logging.SamplingThereafter)
	v.SetDefault("telemetry.logging.time_format", t.Logging.TimeFormat)
	v.SetDefault("telemetry.tracing.enabled", t.Tracing.Enabled)
	v.SetDefault("telemetry.tracing.exporter", t.Tracing.Exporter)
	v.SetDefault("telemetry.tracing.endpoint", t.Tracing.Endpoint)
	v.SetDefault("telemetry.tracing.sampling_rate", t.Tracing.SamplingRate)
	v.SetDefault("telemetry.tracing.max_export_batch_size", t.Tracing.MaxExportBatchSize)
	v.SetDefault("telemetry.tracing.export_timeout", t.Tracing.ExportTimeout)
	v.SetDefault("telemetry.tracing.insecure", t.Tracing.Insecure)
	v.SetDefault("telemetry.metrics.enabled", t.Metrics.Enabled)
	v.SetDefault("telemetry.metrics.listen_address", t.Metrics.ListenAddress)
	v.SetDefault("telemetry.metrics.path", t.Metrics.Path)
	v.SetDefault("telemetry.metrics.namespace", t.Metrics.Namespace)
	v.SetDefault("telemetry.metrics.histogram_buckets", t.Metrics.DefaultHistogramBuckets)
}

// restoreVerbatimMaps re-reads provider options and env from the file.
// Viper folds map keys to lower case, but both maps are handed to the
// backend as written.
func restoreVerbatimMaps(path string, cfg *File) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw struct {
		Provider struct {
			Options map[string]interface{} `yaml:"options"`
			Env     map[string]string      `yaml:"env"`
		} `yaml:"provider"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if raw.Provider.Options != nil {
		cfg.Provider.Options = raw.Provider.Options
	}
	if raw.Provider.Env != nil {
		cfg.Provider.Env = raw.Provider.Env
	}
	return nil
}

// Validate checks field constraints and the cross-field schema.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := f.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return checkSchema(f)
}

func checkSchema(f *File) error {
	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if err := schemaValue.Err(); err != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", err)
	}
	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))

	data := ctx.Encode(map[string]interface{}{
		"provider":  f.Provider,
		"agent":     f.Agent,
		"store":     f.Store,
		"blobstore": f.Blobstore,
	})
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true), cue.Hidden(true)); err != nil {
		return fmt.Errorf("configuration does not satisfy schema: %s", cueerrors.Details(err, nil))
	}
	return nil
}
