package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/openfroyo/stratum/pkg/fault"
)

const (
	agentPath       = "/agent"
	maxResponseBody = 16 << 20
	maxErrorBody    = 1024
)

// HTTPTransport posts JSON messages to the agent's HTTP endpoint.
type HTTPTransport struct {
	endpoint    string
	client      *http.Client
	credentials Credentials
}

func newHTTPTransport(u *url.URL, opts Options) (Transport, error) {
	if u.Host == "" {
		return nil, fault.NewInvalidArgument(fmt.Sprintf("agent URI %q has no host", u.Redacted()), nil)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.RequestTimeout}
	}
	return &HTTPTransport{
		endpoint:    strings.TrimSuffix(u.String(), "/") + agentPath,
		client:      client,
		credentials: opts.Credentials,
	}, nil
}

// Endpoint returns the URL requests are posted to.
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// RoundTrip posts req and decodes the agent's answer.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fault.NewInvalidArgument("failed to encode agent request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fault.NewInvalidArgument("failed to build agent request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if t.credentials != nil {
		header, err := t.credentials.Authorization(ctx)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", header)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, fault.NewAuthentication(
			fmt.Sprintf("agent rejected credentials %s (HTTP %d)", describeCredentials(t.credentials), httpResp.StatusCode), nil)
	case httpResp.StatusCode < 200 || httpResp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &StatusError{Code: httpResp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fault.NewTransport("invalid agent response", err).WithRetryable(false)
	}
	return &resp, nil
}
