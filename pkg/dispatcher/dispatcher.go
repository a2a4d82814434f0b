// Package dispatcher is the single entry point for CPI operations. It
// validates each call, routes it to the configured adapter and normalizes
// the result so that callers only ever see the fault taxonomy.
//
// Calls are safe for concurrent use; a Dispatcher holds no mutable state
// after construction.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stratum/pkg/config"
	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/cpi/external"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/opctx"
	"github.com/openfroyo/stratum/pkg/process"
	"github.com/openfroyo/stratum/pkg/telemetry"
)

// Call outcomes, as logged and counted.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeAbsorbed = "absorbed"
)

// Dispatcher routes CPI operations to one adapter.
type Dispatcher struct {
	proc    *process.Process
	adapter cpi.Adapter
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records call counters and latencies.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer emits one span per call.
func WithTracer(t *telemetry.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithLogger overrides the process logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher over an already resolved adapter.
func New(p *process.Process, adapter cpi.Adapter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		proc:    p,
		adapter: adapter,
		logger:  p.Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("component", "dispatcher").Logger()
	return d
}

// Resolve turns provider configuration into an adapter. An executable path
// selects the external adapter; otherwise the name must be registered.
// Only WithMetrics is honored among opts.
func Resolve(cfg config.ProviderConfig, reg *cpi.Registry, p *process.Process, opts ...Option) (cpi.Adapter, error) {
	if cfg.IsExternal() {
		var o Dispatcher
		for _, opt := range opts {
			opt(&o)
		}
		logger := p.Logger()
		a, err := external.New(external.Config{
			Name:        cfg.Label(),
			Path:        cfg.ExecutablePath,
			Timeout:     cfg.Timeout,
			GracePeriod: cfg.GracePeriod,
			Env:         cfg.Env,
			Options:     cfg.Options,
			Logger:      &logger,
			Metrics:     o.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure external CPI: %w", err)
		}
		return a, nil
	}

	if cfg.Name == "" {
		return nil, fault.NewInvalidArgument("provider needs a backend name or an executable path", nil)
	}
	a, err := reg.Build(cfg.Name, cfg.Options, p)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider: %w", err)
	}
	return a, nil
}

// Backend returns the adapter's name.
func (d *Dispatcher) Backend() string {
	return d.adapter.Name()
}

// Call performs one CPI operation. A zero oc gets a fresh request id.
// ResourceNotFound on a delete-class operation is treated as success.
func (d *Dispatcher) Call(ctx context.Context, op cpi.Operation, args cpi.Args, oc opctx.Context) (interface{}, error) {
	if oc.RequestID == "" {
		oc = d.proc.NewOperationContext(oc.Caller)
	}
	backend := d.adapter.Name()
	start := time.Now()

	done := d.metrics.CPICallStarted(backend)
	defer done()

	spanCtx, span := d.tracer.StartCPISpan(ctx, backend, string(op), oc.RequestID)
	defer span.End()

	var (
		result interface{}
		err    error
	)
	if err = cpi.ValidateArgs(op, args); err == nil {
		result, err = d.invoke(opctx.WithContext(spanCtx, oc), op, args, oc)
	}
	err = normalize(err, op, oc)

	outcome := OutcomeOK
	switch {
	case err == nil:
	case op.IsDeleteClass() && fault.IsNotFound(err):
		outcome = OutcomeAbsorbed
	default:
		outcome = OutcomeError
	}

	elapsed := time.Since(start)
	d.observe(spanCtx, op, oc, backend, outcome, start, elapsed, err)

	span.SetAttributes(telemetry.AttrOutcome.String(outcome))
	switch outcome {
	case OutcomeError:
		telemetry.FinishSpan(span, err)
		return nil, err
	case OutcomeAbsorbed:
		telemetry.FinishSpan(span, nil)
		return nil, nil
	}
	telemetry.FinishSpan(span, nil)
	return result, nil
}

// invoke calls the adapter, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, op cpi.Operation, args cpi.Args, oc opctx.Context) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("operation", string(op)).
				Str("request_id", oc.RequestID).
				Str("stack", string(debug.Stack())).
				Msgf("Backend panicked: %v", r)
			err = fault.NewCloud(fmt.Sprintf("backend panicked: %v", r), false, nil)
		}
	}()
	return d.adapter.Call(ctx, op, args, oc)
}

// normalize classifies err and stamps the call context on it.
func normalize(err error, op cpi.Operation, oc opctx.Context) error {
	if err == nil {
		return nil
	}
	f, ok := fault.As(err)
	if ok {
		// backends may return shared values; never stamp them in place
		cp := *f
		f = &cp
	} else {
		f = fault.NewCloud("unexpected backend error", false, err)
	}
	if f.Operation == "" {
		f.WithOperation(string(op))
	}
	if f.RequestID == "" {
		f.WithRequestID(oc.RequestID)
	}
	return f
}

// observe emits the log line, metrics and audit record for one call.
func (d *Dispatcher) observe(ctx context.Context, op cpi.Operation, oc opctx.Context, backend, outcome string, start time.Time, elapsed time.Duration, err error) {
	var ev *zerolog.Event
	switch outcome {
	case OutcomeError:
		ev = d.logger.Error().Err(err)
	case OutcomeAbsorbed:
		ev = d.logger.Info().Str("absorbed_error", err.Error())
	default:
		ev = d.logger.Info()
	}
	ev.Str("operation", string(op)).
		Str("request_id", oc.RequestID).
		Str("caller", oc.Caller).
		Str("backend", backend).
		Dur("elapsed", elapsed).
		Str("outcome", outcome).
		Str("trace_id", telemetry.TraceID(ctx)).
		Msg("CPI call finished")

	d.metrics.RecordCPICall(backend, string(op), outcome, elapsed)
	kind := ""
	switch outcome {
	case OutcomeError:
		kind = string(fault.KindOf(err))
		d.metrics.RecordCPIError(backend, string(op), kind)
	case OutcomeAbsorbed:
		kind = string(fault.KindNotFound)
		d.metrics.RecordAbsorbedNotFound(backend, string(op))
	}

	storage := d.proc.Storage()
	if storage == nil {
		return
	}
	rec := process.CallRecord{
		RequestID: oc.RequestID,
		Caller:    oc.Caller,
		Backend:   backend,
		Operation: string(op),
		Outcome:   outcome,
		ErrorKind: kind,
		StartedAt: start,
		Duration:  elapsed,
	}
	if f, ok := fault.As(err); ok {
		rec.Message = f.Message
	}
	if recErr := storage.RecordCall(ctx, rec); recErr != nil {
		d.logger.Warn().Err(recErr).Str("request_id", oc.RequestID).Msg("Failed to record CPI call")
	}
}
