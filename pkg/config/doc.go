// Package config loads the stratum configuration file.
//
// # Overview
//
// A single file describes which CPI backend the process dispatches to, how
// the agent client reaches VMs, and where the settings store, blobstore and
// telemetry live. The file may be YAML or JSON. Every scalar key can be
// overridden from the environment with the STRATUM_ prefix, dots replaced by
// underscores:
//
//	STRATUM_PROVIDER_NAME=dummy
//	STRATUM_AGENT_MAX_ATTEMPTS=3
//
// # Validation
//
// Loading runs two passes. Struct tags checked by go-playground/validator
// cover single fields (required values, ranges, enumerations). A CUE schema
// then checks the rules that span fields, for example that a provider names
// either a registered backend or an executable, and that backoff ceilings are
// not below their starting intervals.
//
// # Usage Example
//
//	cfg, err := config.Load(ctx, config.LoadOptions{Path: "stratum.yaml"})
//	if err != nil {
//	    return err
//	}
//	adapter, err := dispatcher.Resolve(cfg.Provider, backends.Default(), proc)
//
// The configuration is read once at startup and is immutable afterwards.
package config
