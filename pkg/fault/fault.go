// Package fault defines the closed error taxonomy shared by the CPI dispatcher,
// its adapters and the agent client. Every failure leaving those components is
// a *Error carrying one of the Kind values below, so callers can pattern-match
// with errors.Is or the Is* helpers instead of inspecting messages.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for retry and reporting decisions.
type Kind string

const (
	// KindInvalidArgument is a caller defect. Never retried.
	KindInvalidArgument Kind = "InvalidArgument"

	// KindNotImplemented signals that the backend does not support the
	// operation. Never retried; surfaced to the operator as a blocker.
	KindNotImplemented Kind = "CloudNotImplemented"

	// KindCloud is an unexpected backend fault, retryable per caller policy.
	KindCloud Kind = "CloudError"

	// KindNotFound means a referenced VM, disk, network, stemcell or
	// snapshot id does not exist.
	KindNotFound Kind = "ResourceNotFound"

	// KindAuthentication means credentials were rejected. Fatal.
	KindAuthentication Kind = "AuthenticationError"

	// KindTransport means the agent could not be reached.
	KindTransport Kind = "TransportError"

	// KindTaskTimeout means an agent task did not finish before the
	// caller's deadline. The remote task is left running.
	KindTaskTimeout Kind = "TaskTimeout"

	// KindAgent is an application-level failure reported by the agent.
	KindAgent Kind = "AgentError"
)

// Kinds lists every kind in the taxonomy.
var Kinds = []Kind{
	KindInvalidArgument,
	KindNotImplemented,
	KindCloud,
	KindNotFound,
	KindAuthentication,
	KindTransport,
	KindTaskTimeout,
	KindAgent,
}

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotImplemented  = &Error{Kind: KindNotImplemented}
	ErrCloud           = &Error{Kind: KindCloud}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrAuthentication  = &Error{Kind: KindAuthentication}
	ErrTransport       = &Error{Kind: KindTransport}
	ErrTaskTimeout     = &Error{Kind: KindTaskTimeout}
	ErrAgent           = &Error{Kind: KindAgent}
)

// Error is a classified failure with call context.
type Error struct {
	// Kind is the taxonomy entry.
	Kind Kind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Operation is the CPI operation or agent method being performed.
	Operation string `json:"operation,omitempty"`

	// RequestID correlates the failure with the call's log lines.
	RequestID string `json:"request_id,omitempty"`

	// Retryable is the backend's hint that the call may succeed if repeated.
	Retryable bool `json:"ok_to_retry"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context such as captured stderr or the
	// agent's exception payload.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Operation != "" && e.RequestID != "" {
		fmt.Fprintf(&b, " (operation=%s, request_id=%s)", e.Operation, e.RequestID)
	} else if e.Operation != "" {
		fmt.Fprintf(&b, " (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// NewInvalidArgument creates a caller-defect error.
func NewInvalidArgument(message string, err error) *Error {
	return New(KindInvalidArgument, message, err)
}

// NewNotImplemented creates a capability-gap error.
func NewNotImplemented(message string, err error) *Error {
	return New(KindNotImplemented, message, err)
}

// NewCloud creates a backend fault.
func NewCloud(message string, retryable bool, err error) *Error {
	e := New(KindCloud, message, err)
	e.Retryable = retryable
	return e
}

// NewNotFound creates a missing-resource error.
func NewNotFound(message string, err error) *Error {
	return New(KindNotFound, message, err)
}

// NewAuthentication creates a rejected-credentials error.
func NewAuthentication(message string, err error) *Error {
	return New(KindAuthentication, message, err)
}

// NewTransport creates an agent transport error. Transport errors are
// retryable unless marked otherwise with WithRetryable(false).
func NewTransport(message string, err error) *Error {
	e := New(KindTransport, message, err)
	e.Retryable = true
	return e
}

// NewTaskTimeout creates a task timeout error.
func NewTaskTimeout(message string, err error) *Error {
	return New(KindTaskTimeout, message, err)
}

// NewAgent creates an agent application error.
func NewAgent(message string, err error) *Error {
	return New(KindAgent, message, err)
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithRequestID adds the request id to an error.
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// WithRetryable overrides the retry hint.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or the empty string when err is not
// classified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsInvalidArgument returns true if the error is a caller defect.
func IsInvalidArgument(err error) bool { return IsKind(err, KindInvalidArgument) }

// IsNotImplemented returns true if the backend lacks the operation.
func IsNotImplemented(err error) bool { return IsKind(err, KindNotImplemented) }

// IsCloud returns true if the error is a backend fault.
func IsCloud(err error) bool { return IsKind(err, KindCloud) }

// IsNotFound returns true if the referenced resource does not exist.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsAuthentication returns true if credentials were rejected.
func IsAuthentication(err error) bool { return IsKind(err, KindAuthentication) }

// IsTransport returns true if the agent could not be reached.
func IsTransport(err error) bool { return IsKind(err, KindTransport) }

// IsTaskTimeout returns true if waiting on an agent task timed out.
func IsTaskTimeout(err error) bool { return IsKind(err, KindTaskTimeout) }

// IsAgent returns true if the agent reported an application failure.
func IsAgent(err error) bool { return IsKind(err, KindAgent) }

// IsRetryable returns true if the caller may repeat the call. Only
// transport and cloud errors carrying the retry hint qualify.
func IsRetryable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case KindTransport, KindCloud:
		return e.Retryable
	default:
		return false
	}
}

// legacyKinds maps error type names emitted by older CPI executables onto
// the taxonomy.
var legacyKinds = map[string]Kind{
	"CpiError":         KindCloud,
	"CloudError":       KindCloud,
	"NotSupported":     KindNotImplemented,
	"NotImplemented":   KindNotImplemented,
	"VMNotFound":       KindNotFound,
	"DiskNotFound":     KindNotFound,
	"NetworkNotFound":  KindNotFound,
	"StemcellNotFound": KindNotFound,
	"NoDiskSpace":      KindCloud,
	"DiskNotAttached":  KindCloud,
	"VMCreationFailed": KindCloud,
	"InvalidCall":      KindInvalidArgument,
}

// ParseKind resolves a wire error type to a Kind. It accepts the taxonomy
// names, the legacy names, and legacy names qualified with a "::" namespace
// such as "Bosh::Clouds::VMNotFound".
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, true
		}
	}
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	k, ok := legacyKinds[name]
	return k, ok
}
