package protocol

import (
	"errors"
	"testing"

	"github.com/openfroyo/stratum/pkg/fault"
)

func TestErrorFault(t *testing.T) {
	tests := []struct {
		name      string
		err       Error
		wantKind  fault.Kind
		wantRetry bool
	}{
		{"retryable cloud error", Error{Kind: "CloudError", Message: "x", OkToRetry: true}, fault.KindCloud, true},
		{"non-retryable cloud error", Error{Kind: "CloudError", Message: "x"}, fault.KindCloud, false},
		{"not found", Error{Kind: "ResourceNotFound", Message: "x"}, fault.KindNotFound, false},
		{"legacy vm not found", Error{Kind: "Bosh::Clouds::VMNotFound", Message: "x"}, fault.KindNotFound, false},
		{"legacy not supported", Error{Kind: "Bosh::Clouds::NotSupported", Message: "x"}, fault.KindNotImplemented, false},
		{"authentication", Error{Kind: "AuthenticationError", Message: "x", OkToRetry: true}, fault.KindAuthentication, false},
		{"legacy invalid call for unknown method", Error{Kind: "InvalidCall", Message: "Method is not known, got `snapshot_disk'"}, fault.KindNotImplemented, false},
		{"legacy cloud error for unknown method", Error{Kind: "Bosh::Clouds::CloudError", Message: "Invalid Method: snapshot_disk"}, fault.KindNotImplemented, false},
		{"invalid call for other reasons", Error{Kind: "InvalidCall", Message: "Arguments are not correct"}, fault.KindInvalidArgument, false},
		{"unknown kind", Error{Kind: "Kaboom", Message: "x", OkToRetry: true}, fault.KindCloud, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.err.Fault()
			if f.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", f.Kind, tt.wantKind)
			}
			if f.Retryable != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", f.Retryable, tt.wantRetry)
			}
		})
	}
}

func TestErrorFromFault(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  string
		wantMsg   string
		wantRetry bool
	}{
		{
			name:      "retryable cloud error",
			err:       fault.NewCloud("capacity", true, nil),
			wantKind:  "CloudError",
			wantMsg:   "capacity",
			wantRetry: true,
		},
		{
			name:     "not found with cause",
			err:      fault.NewNotFound("vm vm-1 not found", errors.New("404")),
			wantKind: "ResourceNotFound",
			wantMsg:  "vm vm-1 not found: 404",
		},
		{
			name:     "plain error",
			err:      errors.New("disk on fire"),
			wantKind: "CloudError",
			wantMsg:  "disk on fire",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ErrorFromFault(tt.err)
			if got.Kind != tt.wantKind || got.Message != tt.wantMsg || got.OkToRetry != tt.wantRetry {
				t.Errorf("ErrorFromFault() = %+v", got)
			}
		})
	}
}
