package external

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/cpi/protocol"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/opctx"
)

// The test binary doubles as a fake CPI executable: when the mode variable
// is set it answers one request and exits instead of running tests.
const modeEnv = "STRATUM_FAKE_CPI_MODE"

func TestMain(m *testing.M) {
	if mode := os.Getenv(modeEnv); mode != "" {
		os.Exit(fakeCPI(mode))
	}
	os.Exit(m.Run())
}

func fakeCPI(mode string) int {
	req, err := protocol.NewDecoder(os.Stdin).DecodeRequest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad request: %v\n", err)
		return 2
	}

	respond := func(resp *protocol.Response) int {
		if err := protocol.NewEncoder(os.Stdout).EncodeResponse(resp); err != nil {
			return 2
		}
		return 0
	}

	switch mode {
	case "echo":
		fmt.Fprintln(os.Stderr, "echoing", req.Method)
		return respond(&protocol.Response{
			Result: map[string]interface{}{
				"method":    req.Method,
				"arguments": req.Arguments,
				"context":   req.Context,
			},
			Log: "Starting " + req.Method + "\nFinished " + req.Method + "\n",
		})
	case "env":
		return respond(&protocol.Response{Result: os.Environ()})
	case "error":
		return respond(&protocol.Response{Error: &protocol.Error{
			Kind:      os.Getenv("STRATUM_FAKE_CPI_KIND"),
			Message:   "backend failure",
			OkToRetry: true,
		}})
	case "legacy":
		fmt.Fprint(os.Stdout, `{"result":null,"error":{"type":"Bosh::Clouds::CloudError","message":"Invalid Method: `+req.Method+`","ok_to_retry":false},"log":""}`)
		return 0
	case "result-only":
		fmt.Fprint(os.Stdout, `{"result":"vm-`+req.Method+`"}`)
		return 0
	case "error-only":
		fmt.Fprint(os.Stdout, `{"error":{"kind":"CloudError","message":"quota exceeded","retryable":true}}`)
		return 0
	case "garbage":
		fmt.Fprint(os.Stdout, "this is not json")
		return 0
	case "empty":
		return 0
	case "crash":
		args := cpi.Args(req.Arguments)
		fmt.Fprintf(os.Stderr, "panic: could not use %v\n", args.Properties(2)["password"])
		return 3
	case "hang":
		time.Sleep(time.Minute)
		return 0
	}
	return 2
}

func newTestAdapter(t *testing.T, mode string, extra map[string]string) *Adapter {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable() error = %v", err)
	}

	env := map[string]string{modeEnv: mode}
	for k, v := range extra {
		env[k] = v
	}

	a, err := New(Config{
		Name:        "fake",
		Path:        exe,
		Timeout:     20 * time.Second,
		GracePeriod: time.Second,
		Env:         env,
		Options:     map[string]interface{}{"region": "test-1"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNewRejectsBadExecutables(t *testing.T) {
	dir := t.TempDir()
	notExec := filepath.Join(dir, "cpi")
	if err := os.WriteFile(notExec, []byte("#!/bin/sh\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty path", Config{Timeout: time.Second}},
		{"missing file", Config{Path: filepath.Join(dir, "missing"), Timeout: time.Second}},
		{"directory", Config{Path: dir, Timeout: time.Second}},
		{"not executable", Config{Path: notExec, Timeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !fault.IsInvalidArgument(err) {
				t.Errorf("New() error = %v, want InvalidArgument", err)
			}
		})
	}
}

func TestCallRoundTrip(t *testing.T) {
	a := newTestAdapter(t, "echo", nil)
	oc := opctx.New("req-42", "deployer")

	result, err := a.Call(context.Background(), cpi.OpHasVM, cpi.Args{"vm-1"}, oc)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	got, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("result = %#v, want object", result)
	}
	if got["method"] != "has_vm" {
		t.Errorf("method = %v, want has_vm", got["method"])
	}
	args, _ := got["arguments"].([]interface{})
	if len(args) != 1 || args[0] != "vm-1" {
		t.Errorf("arguments = %v, want [vm-1]", got["arguments"])
	}
	reqCtx, _ := got["context"].(map[string]interface{})
	if reqCtx["request_id"] != "req-42" || reqCtx["caller"] != "deployer" {
		t.Errorf("context = %v", reqCtx)
	}
	if reqCtx["region"] != "test-1" {
		t.Errorf("context region = %v, want provider option", reqCtx["region"])
	}
}

func TestCallRestrictsEnvironment(t *testing.T) {
	t.Setenv("STRATUM_PARENT_SECRET", "leak")
	a := newTestAdapter(t, "env", map[string]string{"EXTRA": "1"})

	result, err := a.Call(context.Background(), cpi.OpInfo, nil, opctx.New("req-1", ""))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	var env []string
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("result = %s, want string list", raw)
	}

	joined := strings.Join(env, "\n")
	if !strings.Contains(joined, "PATH="+DefaultPath) {
		t.Errorf("environment missing restricted PATH: %v", env)
	}
	if !strings.Contains(joined, "EXTRA=1") {
		t.Errorf("environment missing configured extra: %v", env)
	}
	if strings.Contains(joined, "STRATUM_PARENT_SECRET") {
		t.Errorf("parent environment leaked into child: %v", env)
	}
}

func TestCallErrorKinds(t *testing.T) {
	tests := []struct {
		wire      string
		want      fault.Kind
		retryable bool
	}{
		{"CloudError", fault.KindCloud, true},
		{"ResourceNotFound", fault.KindNotFound, false},
		{"CloudNotImplemented", fault.KindNotImplemented, false},
		{"Bosh::Clouds::VMNotFound", fault.KindNotFound, false},
		{"Bosh::Clouds::NotSupported", fault.KindNotImplemented, false},
		{"SomethingNew", fault.KindCloud, true},
	}

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			a := newTestAdapter(t, "error", map[string]string{"STRATUM_FAKE_CPI_KIND": tt.wire})
			_, err := a.Call(context.Background(), cpi.OpDeleteVM, cpi.Args{"vm-1"}, opctx.New("req-1", ""))

			f, ok := fault.As(err)
			if !ok {
				t.Fatalf("Call() error = %v, want classified error", err)
			}
			if f.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", f.Kind, tt.want)
			}
			if fault.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", fault.IsRetryable(err), tt.retryable)
			}
			if f.Operation != "delete_vm" || f.RequestID != "req-1" {
				t.Errorf("error context = (%q, %q)", f.Operation, f.RequestID)
			}
		})
	}
}

func TestCallLegacyUnknownMethod(t *testing.T) {
	a := newTestAdapter(t, "legacy", nil)
	_, err := a.Call(context.Background(), cpi.OpResizeDisk, cpi.Args{"disk-1", 2048}, opctx.New("req-1", ""))
	if !fault.IsNotImplemented(err) {
		t.Errorf("Call() error = %v, want CloudNotImplemented", err)
	}
}

func TestCallSingleKeyResponses(t *testing.T) {
	a := newTestAdapter(t, "result-only", nil)
	result, err := a.Call(context.Background(), cpi.OpInfo, nil, opctx.New("req-1", ""))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != "vm-info" {
		t.Errorf("result = %v, want vm-info", result)
	}

	a = newTestAdapter(t, "error-only", nil)
	_, err = a.Call(context.Background(), cpi.OpDeleteVM, cpi.Args{"vm-1"}, opctx.New("req-2", ""))
	f, ok := fault.As(err)
	if !ok || f.Kind != fault.KindCloud {
		t.Fatalf("Call() error = %v, want CloudError", err)
	}
	if !fault.IsRetryable(err) {
		t.Error("retryable hint was lost")
	}
	if f.Message != "quota exceeded" {
		t.Errorf("Message = %q", f.Message)
	}
}

func TestCallInvalidOutput(t *testing.T) {
	for _, mode := range []string{"garbage", "empty"} {
		t.Run(mode, func(t *testing.T) {
			a := newTestAdapter(t, mode, nil)
			_, err := a.Call(context.Background(), cpi.OpInfo, nil, opctx.New("req-1", ""))
			if !fault.IsCloud(err) {
				t.Fatalf("Call() error = %v, want CloudError", err)
			}
			if fault.IsRetryable(err) {
				t.Error("invalid output should not be retryable")
			}
		})
	}
}

func TestCallCrashScrubsStderr(t *testing.T) {
	a := newTestAdapter(t, "crash", nil)
	args := cpi.Args{
		"agent-1",
		"stemcell-1",
		map[string]interface{}{"password": "hunter2-secret"},
		map[string]interface{}{},
	}

	_, err := a.Call(context.Background(), cpi.OpCreateVM, args, opctx.New("req-1", ""))
	f, ok := fault.As(err)
	if !ok || f.Kind != fault.KindCloud {
		t.Fatalf("Call() error = %v, want CloudError", err)
	}

	stderr, _ := f.Details["stderr"].(string)
	if !strings.Contains(stderr, "could not use") {
		t.Errorf("stderr detail = %q, want captured output", stderr)
	}
	if strings.Contains(stderr, "hunter2-secret") {
		t.Errorf("stderr detail leaked a secret: %q", stderr)
	}
	if !strings.Contains(stderr, cpi.Redacted) {
		t.Errorf("stderr detail = %q, want redaction marker", stderr)
	}
	if f.Details["exit_code"] != 3 {
		t.Errorf("exit_code = %v, want 3", f.Details["exit_code"])
	}
}

func TestCallTimeoutKillsChild(t *testing.T) {
	a := newTestAdapter(t, "hang", nil)
	a.cfg.Timeout = 300 * time.Millisecond
	a.cfg.GracePeriod = 500 * time.Millisecond

	start := time.Now()
	_, err := a.Call(context.Background(), cpi.OpInfo, nil, opctx.New("req-1", ""))
	elapsed := time.Since(start)

	if !fault.IsCloud(err) || !fault.IsRetryable(err) {
		t.Fatalf("Call() error = %v, want retryable CloudError", err)
	}
	if limit := a.cfg.Timeout + a.cfg.GracePeriod + time.Second; elapsed > limit {
		t.Errorf("Call() took %v, want at most %v", elapsed, limit)
	}
}

func TestBoundedBuffer(t *testing.T) {
	b := newBoundedBuffer(4)
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if got := b.String(); got != "abcd\n[truncated]" {
		t.Errorf("String() = %q", got)
	}
}
