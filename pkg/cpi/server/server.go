// Package server is the executable side of the external CPI protocol. It
// reads one request from stdin, runs it against a registered native backend
// and writes one response, which lets any in-process backend be deployed as
// an external CPI executable.
package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/cpi/protocol"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/opctx"
	"github.com/openfroyo/stratum/pkg/process"
)

// Server answers external CPI requests with a native backend.
type Server struct {
	registry *cpi.Registry
	backend  string
	options  cpi.Properties
	proc     *process.Process
}

// New creates a server for the named backend. Options are merged under the
// provider options carried in each request context.
func New(registry *cpi.Registry, backend string, options cpi.Properties, proc *process.Process) (*Server, error) {
	if _, ok := registry.Lookup(backend); !ok {
		return nil, fmt.Errorf("unknown backend %q (registered: %v)", backend, registry.Names())
	}
	return &Server{
		registry: registry,
		backend:  backend,
		options:  options,
		proc:     proc,
	}, nil
}

// Serve handles exactly one request. Failures of the call itself are
// reported in the response; the returned error is non-nil only when the
// response could not be written.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	var logBuf bytes.Buffer
	callLog := zerolog.New(zerolog.ConsoleWriter{
		Out:        &logBuf,
		NoColor:    true,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	resp := s.handle(ctx, in, callLog)
	resp.Log = logBuf.String()

	if err := protocol.NewEncoder(out).EncodeResponse(resp); err != nil {
		return fmt.Errorf("failed to write CPI response: %w", err)
	}
	return nil
}

func (s *Server) handle(ctx context.Context, in io.Reader, callLog zerolog.Logger) *protocol.Response {
	logger := s.proc.Logger()

	req, err := protocol.NewDecoder(in).DecodeRequest()
	if err != nil {
		logger.Error().Err(err).Msg("Rejecting malformed CPI request")
		return failed(fault.NewInvalidArgument("invalid CPI request", err))
	}

	op := cpi.Operation(req.Method)
	oc := req.OperationContext()
	if oc.RequestID == "" {
		oc = opctx.New(s.proc.IDs().NewID(), oc.Caller)
	}
	callLog = callLog.With().Str("request_id", oc.RequestID).Logger()

	if err := op.Validate(); err != nil {
		callLog.Warn().Str("method", req.Method).Msg("Unknown method")
		return failed(fault.NewNotImplemented(fmt.Sprintf("unknown CPI method %q", req.Method), nil))
	}

	args := cpi.Args(req.Arguments)
	if err := cpi.ValidateArgs(op, args); err != nil {
		return failed(err)
	}

	adapter, err := s.registry.Build(s.backend, s.mergedOptions(req.Options()), s.proc)
	if err != nil {
		return failed(fault.NewCloud("failed to initialize backend", false, err))
	}

	start := time.Now()
	callLog.Info().Msgf("Starting %s", op)
	result, err := invoke(ctx, adapter, op, args, oc)
	callLog.Info().Dur("elapsed", time.Since(start)).Msgf("Finished %s", op)

	if err != nil {
		callLog.Error().Err(err).Msgf("Failed %s", op)
		return failed(err)
	}
	return &protocol.Response{Result: result}
}

func (s *Server) mergedOptions(requestOptions map[string]interface{}) cpi.Properties {
	merged := make(cpi.Properties, len(s.options)+len(requestOptions))
	for k, v := range s.options {
		merged[k] = v
	}
	for k, v := range requestOptions {
		merged[k] = v
	}
	return merged
}

func invoke(ctx context.Context, adapter cpi.Adapter, op cpi.Operation, args cpi.Args, oc opctx.Context) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.NewCloud(fmt.Sprintf("backend panicked: %v", r), false, nil).
				WithDetail("stack", string(debug.Stack()))
		}
	}()
	return adapter.Call(ctx, op, args, oc)
}

func failed(err error) *protocol.Response {
	return &protocol.Response{Error: protocol.ErrorFromFault(err)}
}
