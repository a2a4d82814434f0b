// Package protocol defines the JSON request/response contract spoken over
// the standard streams of an external CPI executable. Each invocation
// carries exactly one request on stdin and one response on stdout.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/opctx"
)

// Version is the wire protocol version this package speaks.
const Version = 1

// Context keys reserved by the protocol. Provider options share the
// context object and must not use them.
const (
	ContextRequestID = "request_id"
	ContextCaller    = "caller"
)

// Request is sent to the executable on stdin.
type Request struct {
	Method     string                 `json:"method"`
	Arguments  []interface{}          `json:"arguments"`
	Context    map[string]interface{} `json:"context"`
	APIVersion int                    `json:"api_version,omitempty"`
}

// NewRequest builds the request for one call. Provider options are copied
// into the context next to the request id and caller.
func NewRequest(op cpi.Operation, args cpi.Args, oc opctx.Context, options map[string]interface{}) *Request {
	ctx := make(map[string]interface{}, len(options)+2)
	for k, v := range options {
		ctx[k] = v
	}
	ctx[ContextRequestID] = oc.RequestID
	if oc.Caller != "" {
		ctx[ContextCaller] = oc.Caller
	}

	arguments := []interface{}(args)
	if arguments == nil {
		arguments = []interface{}{}
	}

	return &Request{
		Method:     string(op),
		Arguments:  arguments,
		Context:    ctx,
		APIVersion: Version,
	}
}

// UnmarshalJSON accepts "operation" as an alias of "method".
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	var aux struct {
		plain
		Operation string `json:"operation"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Request(aux.plain)
	if r.Method == "" {
		r.Method = aux.Operation
	}
	return nil
}

// Validate checks the request envelope.
func (r *Request) Validate() error {
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	if r.Arguments == nil {
		return fmt.Errorf("arguments are required")
	}
	if r.APIVersion > Version {
		return fmt.Errorf("unsupported api_version %d (max %d)", r.APIVersion, Version)
	}
	return nil
}

// OperationContext extracts the request id and caller from the context.
func (r *Request) OperationContext() opctx.Context {
	id, _ := r.Context[ContextRequestID].(string)
	caller, _ := r.Context[ContextCaller].(string)
	return opctx.New(id, caller)
}

// Options returns the context without the reserved keys.
func (r *Request) Options() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Context))
	for k, v := range r.Context {
		if k == ContextRequestID || k == ContextCaller {
			continue
		}
		out[k] = v
	}
	return out
}

// Response is written by the executable on stdout. Exactly one of Result
// and Error is meaningful; Log carries the executable's own log output.
type Response struct {
	Result interface{} `json:"result"`
	Error  *Error      `json:"error"`
	Log    string      `json:"log"`
}

// Error is the failure half of a response.
type Error struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	OkToRetry bool   `json:"ok_to_retry"`
}

// UnmarshalJSON accepts "type" as an alias of "kind" and "retryable" as an
// alias of "ok_to_retry".
func (e *Error) UnmarshalJSON(data []byte) error {
	var aux struct {
		Kind      string `json:"kind"`
		Type      string `json:"type"`
		Message   string `json:"message"`
		OkToRetry *bool  `json:"ok_to_retry"`
		Retryable *bool  `json:"retryable"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Kind = aux.Kind
	if e.Kind == "" {
		e.Kind = aux.Type
	}
	e.Message = aux.Message
	switch {
	case aux.OkToRetry != nil:
		e.OkToRetry = *aux.OkToRetry
	case aux.Retryable != nil:
		e.OkToRetry = *aux.Retryable
	}
	return nil
}

// Fault maps the wire error onto the taxonomy. Kinds the taxonomy does
// not know become CloudError.
func (e *Error) Fault() *fault.Error {
	if isLegacyNotImplemented(e.Kind, e.Message) {
		return fault.NewNotImplemented(e.Message, nil)
	}

	kind, ok := fault.ParseKind(e.Kind)
	if !ok {
		return fault.NewCloud(fmt.Sprintf("unknown CPI error type %q: %s", e.Kind, e.Message), e.OkToRetry, nil).
			WithDetail("error_type", e.Kind)
	}

	f := fault.New(kind, e.Message, nil)
	switch kind {
	case fault.KindCloud:
		f.Retryable = e.OkToRetry
	case fault.KindTransport:
		f.Retryable = true
	}
	return f
}

// Older executables report unknown methods through generic error types.
func isLegacyNotImplemented(kind, message string) bool {
	short := kind
	if i := strings.LastIndex(short, "::"); i >= 0 {
		short = short[i+2:]
	}
	switch short {
	case "InvalidCall":
		return strings.HasPrefix(message, "Method is not known, got")
	case "CloudError":
		return strings.HasPrefix(message, "Invalid Method:")
	default:
		return false
	}
}

// ErrorFromFault converts a backend error into its wire form. Unclassified
// errors are reported as non-retryable CloudError.
func ErrorFromFault(err error) *Error {
	if f, ok := fault.As(err); ok {
		msg := f.Message
		if f.Err != nil {
			msg += ": " + f.Err.Error()
		}
		return &Error{
			Kind:      string(f.Kind),
			Message:   msg,
			OkToRetry: f.Kind == fault.KindCloud && f.Retryable,
		}
	}
	return &Error{
		Kind:    string(fault.KindCloud),
		Message: err.Error(),
	}
}
