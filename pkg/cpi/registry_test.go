package cpi

import (
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/stratum/pkg/process"
)

func TestRegistryRegisterAndBuild(t *testing.T) {
	r := NewRegistry()
	var gotOptions Properties
	err := r.Register("alpha", func(options Properties, p *process.Process) (Cloud, error) {
		gotOptions = options
		return Unimplemented{}, nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	adapter, err := r.Build("alpha", Properties{"region": "eu"}, process.New(process.Options{}))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if adapter.Name() != "alpha" {
		t.Errorf("Name() = %q, want alpha", adapter.Name())
	}
	if gotOptions["region"] != "eu" {
		t.Errorf("constructor options = %v", gotOptions)
	}
}

func TestRegistryRejectsDuplicatesAndEmpty(t *testing.T) {
	r := NewRegistry()
	ctor := func(Properties, *process.Process) (Cloud, error) { return Unimplemented{}, nil }

	if err := r.Register("alpha", ctor); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("alpha", ctor); err == nil {
		t.Error("duplicate Register() should fail")
	}
	if err := r.Register("", ctor); err == nil {
		t.Error("Register() with empty name should fail")
	}
	if err := r.Register("beta", nil); err == nil {
		t.Error("Register() with nil constructor should fail")
	}
}

func TestRegistryUnknownBackend(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("alpha", func(Properties, *process.Process) (Cloud, error) { return Unimplemented{}, nil })

	_, err := r.Build("gamma", nil, process.New(process.Options{}))
	if err == nil || !strings.Contains(err.Error(), `unknown backend "gamma"`) {
		t.Errorf("Build() error = %v, want unknown backend", err)
	}
}

func TestRegistryConstructorFailure(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("missing credentials")
	r.MustRegister("alpha", func(Properties, *process.Process) (Cloud, error) { return nil, boom })

	_, err := r.Build("alpha", nil, process.New(process.Options{}))
	if !errors.Is(err, boom) {
		t.Errorf("Build() error = %v, want %v", err, boom)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	ctor := func(Properties, *process.Process) (Cloud, error) { return Unimplemented{}, nil }
	r.MustRegister("zeta", ctor)
	r.MustRegister("alpha", ctor)

	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names() = %v", names)
	}
}
