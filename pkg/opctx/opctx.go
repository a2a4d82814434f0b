// Package opctx carries the per-call identity attached to every CPI and
// agent request for logging and correlation.
package opctx

import (
	"context"

	"github.com/rs/zerolog"
)

// Context identifies one outbound call. It is an immutable value, created
// per call and never persisted beyond the call audit.
type Context struct {
	// RequestID is unique per call.
	RequestID string `json:"request_id"`

	// Caller identifies the operator or deployment issuing the call.
	Caller string `json:"caller,omitempty"`
}

// New creates an operation context.
func New(requestID, caller string) Context {
	return Context{RequestID: requestID, Caller: caller}
}

// IsZero reports whether no request id has been assigned.
func (c Context) IsZero() bool {
	return c.RequestID == ""
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (c Context) MarshalZerologObject(e *zerolog.Event) {
	e.Str("request_id", c.RequestID)
	if c.Caller != "" {
		e.Str("caller", c.Caller)
	}
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying oc.
func WithContext(ctx context.Context, oc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, oc)
}

// FromContext returns the operation context stored in ctx, if any.
func FromContext(ctx context.Context) (Context, bool) {
	oc, ok := ctx.Value(contextKey{}).(Context)
	return oc, ok
}
