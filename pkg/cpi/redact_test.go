package cpi

import (
	"reflect"
	"strings"
	"testing"
)

func TestRedactArgumentsCreateVM(t *testing.T) {
	args := Args{
		"agent-1",
		"sc-1",
		map[string]interface{}{"access_key": "AKIA-SECRET"},
		map[string]interface{}{
			"default": map[string]interface{}{
				"ip":               "10.0.0.5",
				"cloud_properties": map[string]interface{}{"subnet": "subnet-secret"},
			},
		},
		[]interface{}{"disk-1"},
		map[string]interface{}{
			"bosh": map[string]interface{}{
				"password": "hunter22",
				"group":    "dep-a",
				"groups":   []interface{}{"dep-a", "web"},
				"tags":     map[string]interface{}{"team": "infra"},
			},
			"other": "value",
		},
	}

	got := RedactArguments(OpCreateVM, args)

	if got[0] != "agent-1" || got[1] != "sc-1" {
		t.Errorf("ids changed: %v %v", got[0], got[1])
	}
	if got[2] != Redacted {
		t.Errorf("cloud_properties = %v, want redacted", got[2])
	}
	network := got[3].(Properties)["default"].(Properties)
	if network["ip"] != "10.0.0.5" || network["cloud_properties"] != Redacted {
		t.Errorf("network = %v", network)
	}
	wantEnv := Properties{"bosh": Properties{
		"group":  "dep-a",
		"groups": []interface{}{"dep-a", "web"},
		"tags":   map[string]interface{}{"team": "infra"},
	}}
	if !reflect.DeepEqual(got[5], wantEnv) {
		t.Errorf("env = %#v, want %#v", got[5], wantEnv)
	}

	// The original arguments are untouched.
	if args[2].(map[string]interface{})["access_key"] != "AKIA-SECRET" {
		t.Error("RedactArguments mutated its input")
	}
	inner := args[3].(map[string]interface{})["default"].(map[string]interface{})
	if _, ok := inner["cloud_properties"].(map[string]interface{}); !ok {
		t.Error("RedactArguments mutated nested network input")
	}
}

func TestRedactArgumentsCreateDisk(t *testing.T) {
	got := RedactArguments(OpCreateDisk, Args{1024, map[string]interface{}{"type": "gp3"}, "vm-1"})
	if got[1] != Redacted || got[2] != "vm-1" {
		t.Errorf("RedactArguments() = %v", got)
	}
}

func TestRedactArgumentsOtherOperationsUnchanged(t *testing.T) {
	args := Args{"vm-1", map[string]interface{}{"name": "web/0"}}
	if got := RedactArguments(OpSetVMMetadata, args); !reflect.DeepEqual(got, args) {
		t.Errorf("RedactArguments() = %v, want %v", got, args)
	}
}

func TestSecretsAndScrub(t *testing.T) {
	args := Args{
		"agent-1", "sc-1",
		map[string]interface{}{"access_key": "AKIA-SECRET"},
		map[string]interface{}{},
		nil,
		map[string]interface{}{"bosh": map[string]interface{}{"password": "hunter22", "group": "dep-a"}},
	}
	secrets := Secrets(OpCreateVM, args, map[string]interface{}{"api_token": "tok-123456"})

	stderr := "auth with AKIA-SECRET failed; password hunter22; token tok-123456; group dep-a"
	got := Scrub(stderr, secrets)

	for _, leaked := range []string{"AKIA-SECRET", "hunter22", "tok-123456"} {
		if strings.Contains(got, leaked) {
			t.Errorf("scrubbed text %q still contains %q", got, leaked)
		}
	}
	if !strings.Contains(got, "dep-a") {
		t.Errorf("scrubbed text %q lost the visible group name", got)
	}
}
