package backends

import (
	"testing"

	"github.com/openfroyo/stratum/pkg/cpi/backends/dummy"
)

func TestDefaultRegistersBuiltins(t *testing.T) {
	r := Default()
	if _, ok := r.Lookup(dummy.Name); !ok {
		t.Errorf("Default() is missing %q (registered: %v)", dummy.Name, r.Names())
	}
}
