// Package telemetry provides observability instrumentation for stratum.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one Config.
//
// # Usage
//
// Initialize telemetry at process startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(ctx); err != nil {
//	    return err
//	}
//
// The dispatcher and the agent client accept the *Tracer and *Metrics
// directly; both tolerate nil so tests can leave instrumentation out.
//
// # Metrics
//
// CPI calls are counted as <namespace>_cpi_calls_total with backend,
// operation and outcome labels. Outcome is "ok", "error", or "absorbed" for
// a delete-class call whose target was already gone; failed calls are also
// counted by error kind. Agent requests, task polls and task waits have
// their own series.
//
// # Logging
//
// Logs go to stderr by default. In `stratum cpi serve` mode stdout carries
// the CPI response and must stay clean.
package telemetry
