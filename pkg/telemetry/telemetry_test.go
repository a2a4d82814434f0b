package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/stratum/pkg/fault"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, true},
		{"sampling rate out of range", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"metrics without address", func(c *Config) { c.Metrics.ListenAddress = "" }, true},
		{"metrics disabled without address", func(c *Config) { c.Metrics.Enabled = false; c.Metrics.ListenAddress = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.Component("dispatcher").
		WithBackend("dummy").
		WithRequestID("req-1").
		Info().Msg("call finished")

	out := buf.String()
	for _, want := range []string{`"component":"dispatcher"`, `"backend":"dummy"`, `"request_id":"req-1"`, `"message":"call finished"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "warn", Format: "json"})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message written at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message missing")
	}
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "info", Format: "json"})
	ctx := logger.WithContext(context.Background())

	FromContext(ctx).Info().Msg("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Error("logger from context did not write")
	}

	// A bare context yields a discarding logger rather than nil.
	FromContext(context.Background()).Info().Msg("discarded")
}

func TestMetricsRecordAndExpose(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	done := m.CPICallStarted("dummy")
	m.RecordCPICall("dummy", "create_vm", "ok", 150*time.Millisecond)
	m.RecordCPIError("dummy", "delete_disk", "CloudError")
	m.RecordAbsorbedNotFound("dummy", "delete_vm")
	m.RecordExternalProcess("dummy", "timeout")
	done()

	finish := m.AgentTaskStarted("apply")
	m.RecordAgentRequest("apply", "ok")
	m.RecordAgentRetry("get_task")
	m.RecordAgentPoll("apply")
	finish("done")
	m.RecordBlobOperation("get", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`stratum_cpi_calls_total{backend="dummy",operation="create_vm",outcome="ok"} 1`,
		`stratum_cpi_errors_total{backend="dummy",kind="CloudError",operation="delete_disk"} 1`,
		`stratum_cpi_absorbed_not_found_total{backend="dummy",operation="delete_vm"} 1`,
		`stratum_external_cpi_processes_total{backend="dummy",result="timeout"} 1`,
		`stratum_agent_task_polls_total{method="apply"} 1`,
		`stratum_blobstore_operations_total{operation="get",outcome="ok"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestMetricsNilAndDisabledAreSafe(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.RecordCPICall("b", "o", "ok", time.Second)
	nilMetrics.CPICallStarted("b")()
	nilMetrics.AgentTaskStarted("m")("done")

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	disabled.RecordCPIError("b", "o", "CloudError")
	disabled.RecordAgentRequest("m", "ok")

	rec := httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("disabled metrics handler status = %d, want 404", rec.Code)
	}
}

func TestNilTracerSpans(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.StartCPISpan(context.Background(), "dummy", "create_vm", "req-1")
	FinishSpan(span, errors.New("boom"))
	span.End()
	if TraceID(ctx) != "" {
		t.Error("nil tracer produced a sampled span")
	}

	_, span = tracer.StartAgentSpan(context.Background(), "agent-1", "get_task")
	FinishSpan(span, nil)
	span.End()
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestTracerWithoutExporterSamples(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: true, Exporter: "none", SamplingRate: 1}, "stratum", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.StartCPISpan(context.Background(), "dummy", "delete_vm", "req-2")
	AddEvent(SpanFromContext(ctx), "retry", AttrAgentState.String("running"))
	FinishSpan(span, fault.NewCloud("quota", true, nil))
	span.End()

	if id := TraceID(ctx); len(id) != 32 {
		t.Errorf("TraceID() = %q, want 32 hex chars", id)
	}
}

func TestTracerDisabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "stratum", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	ctx, span := tracer.StartCPISpan(context.Background(), "dummy", "create_vm", "req-1")
	FinishSpan(span, nil)
	span.End()
	if ctx == nil {
		t.Error("StartCPISpan returned nil context")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
