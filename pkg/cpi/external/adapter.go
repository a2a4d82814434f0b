// Package external runs CPI operations through a standalone executable
// speaking the JSON protocol of pkg/cpi/protocol. Every call spawns a fresh
// process with a restricted environment; nothing is pooled or reused.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/cpi/protocol"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/opctx"
	"github.com/openfroyo/stratum/pkg/telemetry"
)

// DefaultPath is the search path given to every executable.
const DefaultPath = "/usr/sbin:/usr/bin:/sbin:/bin"

// maxStderr bounds the diagnostic output kept per call.
const maxStderr = 64 * 1024

// Process results reported to metrics.
const (
	resultOK      = "ok"
	resultError   = "error"
	resultTimeout = "timeout"
	resultCrashed = "crashed"
)

// Config configures an external adapter.
type Config struct {
	// Name labels the backend in logs and metrics.
	Name string

	// Path is the executable.
	Path string

	// Timeout bounds one invocation.
	Timeout time.Duration

	// GracePeriod is how long output streams may stay open after the
	// process was killed.
	GracePeriod time.Duration

	// Env adds variables to the restricted environment.
	Env map[string]string

	// Options are sent in the request context.
	Options map[string]interface{}

	Logger  *zerolog.Logger
	Metrics *telemetry.Metrics
}

// Adapter implements cpi.Adapter over an executable.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger
}

// New validates the executable and returns an adapter for it.
func New(cfg Config) (*Adapter, error) {
	if cfg.Path == "" {
		return nil, fault.NewInvalidArgument("external CPI executable path is required", nil)
	}
	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fault.NewInvalidArgument(fmt.Sprintf("external CPI executable %s is not accessible", cfg.Path), err)
	}
	if !info.Mode().IsRegular() {
		return nil, fault.NewInvalidArgument(fmt.Sprintf("external CPI executable %s is not a regular file", cfg.Path), nil)
	}
	if info.Mode().Perm()&0111 == 0 {
		return nil, fault.NewInvalidArgument(fmt.Sprintf("external CPI executable %s is not executable", cfg.Path), nil)
	}

	if cfg.Name == "" {
		cfg.Name = cfg.Path
	}
	if cfg.Timeout <= 0 {
		return nil, fault.NewInvalidArgument("external CPI timeout must be positive", nil)
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Adapter{
		cfg:    cfg,
		logger: logger.With().Str("component", "external_cpi").Str("backend", cfg.Name).Logger(),
	}, nil
}

// Name returns the backend label.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// Call runs one operation in a fresh child process.
func (a *Adapter) Call(ctx context.Context, op cpi.Operation, args cpi.Args, oc opctx.Context) (interface{}, error) {
	req := protocol.NewRequest(op, args, oc, a.cfg.Options)

	var stdin bytes.Buffer
	if err := protocol.NewEncoder(&stdin).EncodeRequest(req); err != nil {
		return nil, fault.NewInvalidArgument("failed to encode CPI request", err).
			WithOperation(string(op)).
			WithRequestID(oc.RequestID)
	}

	secrets := cpi.Secrets(op, args, a.cfg.Options)

	a.logger.Debug().
		Str("operation", string(op)).
		Object("ctx", oc).
		Interface("arguments", cpi.RedactArguments(op, args)).
		Msg("Running external CPI")

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	stdout := newBoundedBuffer(protocol.MaxMessageSize + 1)
	stderr := newBoundedBuffer(maxStderr)

	cmd := exec.CommandContext(callCtx, a.cfg.Path)
	cmd.Env = a.environ()
	cmd.Stdin = &stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = a.cfg.GracePeriod
	configureProcessGroup(cmd)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	diag := cpi.Scrub(stderr.String(), secrets)

	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		a.cfg.Metrics.RecordExternalProcess(a.cfg.Name, resultTimeout)
		return nil, a.failure(op, oc, diag,
			fault.NewCloud(fmt.Sprintf("external CPI timed out after %s", a.cfg.Timeout), true, callCtx.Err()))
	}
	if ctx.Err() != nil {
		a.cfg.Metrics.RecordExternalProcess(a.cfg.Name, resultTimeout)
		return nil, a.failure(op, oc, diag,
			fault.NewCloud("external CPI call canceled", true, ctx.Err()))
	}

	resp, parseErr := protocol.NewDecoder(stdout).DecodeResponse()
	if parseErr != nil {
		if runErr != nil {
			a.cfg.Metrics.RecordExternalProcess(a.cfg.Name, resultCrashed)
			return nil, a.failure(op, oc, diag,
				fault.NewCloud("external CPI exited without a response", false, runErr).
					WithDetail("exit_code", exitCode(runErr)))
		}
		a.cfg.Metrics.RecordExternalProcess(a.cfg.Name, resultError)
		msg := "invalid response from external CPI"
		if errors.Is(parseErr, protocol.ErrEmpty) {
			msg = "empty response from external CPI"
		}
		return nil, a.failure(op, oc, diag, fault.NewCloud(msg, false, parseErr))
	}

	if resp.Log != "" {
		a.logger.Debug().
			Str("operation", string(op)).
			Str("request_id", oc.RequestID).
			Str("cpi_log", cpi.Scrub(resp.Log, secrets)).
			Msg("External CPI log")
	}
	if runErr != nil {
		a.logger.Warn().
			Err(runErr).
			Str("operation", string(op)).
			Str("request_id", oc.RequestID).
			Msg("External CPI exited abnormally after responding")
	}

	if resp.Error != nil {
		a.cfg.Metrics.RecordExternalProcess(a.cfg.Name, resultError)
		return nil, a.failure(op, oc, diag, resp.Error.Fault())
	}

	a.cfg.Metrics.RecordExternalProcess(a.cfg.Name, resultOK)
	a.logger.Debug().
		Str("operation", string(op)).
		Str("request_id", oc.RequestID).
		Dur("elapsed", elapsed).
		Msg("External CPI finished")

	return resp.Result, nil
}

func (a *Adapter) failure(op cpi.Operation, oc opctx.Context, stderr string, f *fault.Error) error {
	f.WithOperation(string(op)).WithRequestID(oc.RequestID)
	if stderr != "" {
		f.WithDetail("stderr", stderr)
	}
	return f
}

// environ builds the child environment. Nothing is inherited from the
// parent except TMPDIR.
func (a *Adapter) environ() []string {
	tmp := os.Getenv("TMPDIR")
	if tmp == "" {
		tmp = os.TempDir()
	}

	env := []string{
		"PATH=" + DefaultPath,
		"TMPDIR=" + tmp,
	}

	keys := make([]string, 0, len(a.cfg.Env))
	for k := range a.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+a.cfg.Env[k])
	}
	return env
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
