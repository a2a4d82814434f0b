package server

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/cpi/cpitest"
	"github.com/openfroyo/stratum/pkg/cpi/protocol"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/process"
)

type recordingBackend struct {
	mu      sync.Mutex
	cloud   *cpitest.FakeCloud
	options []cpi.Properties
}

func newTestServer(t *testing.T) (*Server, *recordingBackend) {
	t.Helper()
	rb := &recordingBackend{cloud: cpitest.NewFakeCloud()}

	reg := cpi.NewRegistry()
	reg.MustRegister("fake", func(options cpi.Properties, _ *process.Process) (cpi.Cloud, error) {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		rb.options = append(rb.options, options)
		return rb.cloud, nil
	})

	s, err := New(reg, "fake", cpi.Properties{"dir": "/static", "region": "static"}, process.New(process.Options{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, rb
}

func serve(t *testing.T, s *Server, request string) *protocol.Response {
	t.Helper()
	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(request), &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	resp, err := protocol.ParseResponse(out.Bytes())
	if err != nil {
		t.Fatalf("response %q: %v", out.String(), err)
	}
	return resp
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New(cpi.NewRegistry(), "nope", nil, process.New(process.Options{})); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestServeSuccess(t *testing.T) {
	s, rb := newTestServer(t)

	resp := serve(t, s, `{"method":"has_vm","arguments":["vm-1"],"context":{"request_id":"req-9","region":"eu"}}`)

	if resp.Error != nil {
		t.Fatalf("response error = %+v", resp.Error)
	}
	if resp.Result != true {
		t.Errorf("result = %v, want true", resp.Result)
	}
	for _, want := range []string{"Starting has_vm", "Finished has_vm", "req-9"} {
		if !strings.Contains(resp.Log, want) {
			t.Errorf("log %q missing %q", resp.Log, want)
		}
	}

	calls := rb.cloud.Calls()
	if len(calls) != 1 || calls[0].Context.RequestID != "req-9" {
		t.Fatalf("calls = %+v", calls)
	}

	opts := rb.options[0]
	if opts["region"] != "eu" {
		t.Errorf("region = %v, want request option to win", opts["region"])
	}
	if opts["dir"] != "/static" {
		t.Errorf("dir = %v, want static option", opts["dir"])
	}
	if _, ok := opts[protocol.ContextRequestID]; ok {
		t.Error("request id leaked into backend options")
	}
}

func TestServeErrors(t *testing.T) {
	tests := []struct {
		name    string
		request string
		setup   func(rb *recordingBackend)
		want    fault.Kind
	}{
		{
			name:    "unknown method",
			request: `{"method":"frobnicate","arguments":[],"context":{}}`,
			want:    fault.KindNotImplemented,
		},
		{
			name:    "malformed json",
			request: `{"method":`,
			want:    fault.KindInvalidArgument,
		},
		{
			name:    "empty input",
			request: ``,
			want:    fault.KindInvalidArgument,
		},
		{
			name:    "argument schema mismatch",
			request: `{"method":"create_disk","arguments":["big",{}],"context":{}}`,
			want:    fault.KindInvalidArgument,
		},
		{
			name:    "backend not found",
			request: `{"method":"delete_vm","arguments":["vm-x"],"context":{}}`,
			setup: func(rb *recordingBackend) {
				rb.cloud.Errors[cpi.OpDeleteVM] = fault.NewNotFound("vm vm-x not found", nil)
			},
			want: fault.KindNotFound,
		},
		{
			name:    "backend panic",
			request: `{"method":"reboot_vm","arguments":["vm-1"],"context":{}}`,
			setup: func(rb *recordingBackend) {
				rb.cloud.Panics[cpi.OpRebootVM] = "nil map"
			},
			want: fault.KindCloud,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rb := newTestServer(t)
			if tt.setup != nil {
				tt.setup(rb)
			}

			resp := serve(t, s, tt.request)
			if resp.Error == nil {
				t.Fatalf("response result = %v, want error", resp.Result)
			}
			if got := fault.Kind(resp.Error.Kind); got != tt.want {
				t.Errorf("error kind = %s, want %s (message %q)", got, tt.want, resp.Error.Message)
			}
			if resp.Result != nil {
				t.Errorf("result = %v, want null alongside an error", resp.Result)
			}
		})
	}
}

func TestServeRetryableCloudError(t *testing.T) {
	s, rb := newTestServer(t)
	rb.cloud.Errors[cpi.OpCreateStemcell] = fault.NewCloud("quota exceeded", true, nil)

	resp := serve(t, s, `{"method":"create_stemcell","arguments":["/tmp/image",{}],"context":{}}`)
	if resp.Error == nil || !resp.Error.OkToRetry {
		t.Fatalf("response error = %+v, want retryable", resp.Error)
	}
	if resp.Error.Message != "quota exceeded" {
		t.Errorf("message = %q", resp.Error.Message)
	}
}
