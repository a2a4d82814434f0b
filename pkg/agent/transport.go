package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"syscall"

	"github.com/openfroyo/stratum/pkg/fault"
)

// Request is one message sent to the agent.
type Request struct {
	Method    string        `json:"method"`
	Arguments []interface{} `json:"arguments"`
	ReplyTo   string        `json:"reply_to"`
}

// Response is the agent's answer. Exactly one of Value and Exception is set
// by a well-behaved agent.
type Response struct {
	Value     json.RawMessage `json:"value,omitempty"`
	Exception json.RawMessage `json:"exception,omitempty"`
}

// Transport delivers one request to the agent and returns its response.
// Implementations report network failures as plain errors; the client
// decides which of them are worth retrying.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
	// Endpoint identifies the agent without credentials.
	Endpoint() string
}

// TransportFactory builds a transport for a parsed agent URI. The URI no
// longer carries user info.
type TransportFactory func(u *url.URL, opts Options) (Transport, error)

var transports = map[string]TransportFactory{
	"http":  newHTTPTransport,
	"https": newHTTPTransport,
}

// Schemes lists the URI schemes with a registered transport.
func Schemes() []string {
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resolveTransport(u *url.URL, opts Options) (Transport, error) {
	factory, ok := transports[u.Scheme]
	if !ok {
		return nil, fault.NewInvalidArgument(
			fmt.Sprintf("unsupported agent URI scheme %q (supported: %v)", u.Scheme, Schemes()), nil)
	}
	return factory(u, opts)
}

// StatusError is returned by the HTTP transport for non-2xx answers that are
// not authentication failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent answered HTTP %d", e.Code)
	}
	return fmt.Sprintf("agent answered HTTP %d: %s", e.Code, e.Body)
}

// isTransient reports whether err is a delivery failure that may succeed
// on a later attempt.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := fault.As(err); ok {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch status.Code {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
