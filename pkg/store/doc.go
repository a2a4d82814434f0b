// Package store persists the orchestrator-side state stratum owns: the
// settings registry agents bootstrap from and the audit trail of
// dispatched CPI calls. It is SQLite backed, with schema migrations
// embedded in the binary.
package store
