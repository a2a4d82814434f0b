// Package backends wires the built-in CPI backends into a registry.
package backends

import (
	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/cpi/backends/dummy"
)

// Default returns a registry holding every built-in backend.
func Default() *cpi.Registry {
	r := cpi.NewRegistry()
	r.MustRegister(dummy.Name, dummy.New)
	return r
}
