package cpi_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/openfroyo/stratum/pkg/cpi"
	"github.com/openfroyo/stratum/pkg/cpi/cpitest"
	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/opctx"
)

func TestNativeAdapterPassesResultsThrough(t *testing.T) {
	for _, op := range cpi.Operations() {
		t.Run(string(op), func(t *testing.T) {
			cloud := cpitest.NewFakeCloud()
			adapter := cpi.NewNativeAdapter("fake", cloud)
			oc := opctx.New("req-1", "tester")

			got, err := adapter.Call(context.Background(), op, cpitest.SampleArgs(op), oc)
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			if want := cpitest.Result(op); !reflect.DeepEqual(got, want) {
				t.Errorf("Call() = %#v, want %#v", got, want)
			}

			calls := cloud.Calls()
			if len(calls) != 1 || calls[0].Op != op {
				t.Fatalf("calls = %+v, want one %s call", calls, op)
			}
			if calls[0].Context != oc {
				t.Errorf("backend saw context %+v, want %+v", calls[0].Context, oc)
			}
		})
	}
}

func TestNativeAdapterDecodesArguments(t *testing.T) {
	cloud := cpitest.NewFakeCloud()
	adapter := cpi.NewNativeAdapter("fake", cloud)

	args := cpi.Args{"agent-1", "sc-1", map[string]interface{}{"a": 1}, map[string]interface{}{"n": 2}, []interface{}{"d1"}}
	if _, err := adapter.Call(context.Background(), cpi.OpCreateVM, args, opctx.New("r", "")); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	got := cloud.Calls()[0].Args
	if got[0] != "agent-1" || got[1] != "sc-1" {
		t.Errorf("ids = %v, %v", got[0], got[1])
	}
	if disks := got[4].([]string); len(disks) != 1 || disks[0] != "d1" {
		t.Errorf("disk cids = %v", disks)
	}
	if env := got[5].(cpi.Properties); env != nil {
		t.Errorf("omitted env = %v, want nil", env)
	}
}

func TestNativeAdapterReturnsBackendErrors(t *testing.T) {
	cloud := cpitest.NewFakeCloud()
	backendErr := errors.New("quota exceeded")
	cloud.Errors[cpi.OpCreateDisk] = backendErr
	adapter := cpi.NewNativeAdapter("fake", cloud)

	_, err := adapter.Call(context.Background(), cpi.OpCreateDisk, cpitest.SampleArgs(cpi.OpCreateDisk), opctx.New("r", ""))
	if !errors.Is(err, backendErr) {
		t.Errorf("Call() error = %v, want %v", err, backendErr)
	}
}

func TestUnimplementedReportsNotImplemented(t *testing.T) {
	adapter := cpi.NewNativeAdapter("empty", cpi.Unimplemented{})
	for _, op := range cpi.Operations() {
		_, err := adapter.Call(context.Background(), op, cpitest.SampleArgs(op), opctx.New("r", ""))
		if !fault.IsNotImplemented(err) {
			t.Errorf("%s: error = %v, want CloudNotImplemented", op, err)
		}
	}
}
