package cpi

import (
	"sort"
	"strings"
)

// Redacted replaces sensitive values in logs and diagnostics.
const Redacted = "<redacted>"

// envKeep lists the bosh env keys that stay visible when env is redacted.
var envKeep = []string{"group", "groups", "tags"}

// RedactArguments returns a copy of args safe for logging. Cloud properties
// of create_vm and create_disk, network cloud properties, and env (except
// the bosh group and tag keys) are replaced.
func RedactArguments(op Operation, args Args) Args {
	out := make(Args, len(args))
	copy(out, args)

	switch op {
	case OpCreateVM:
		if len(out) > 2 && out[2] != nil {
			out[2] = Redacted
		}
		if len(out) > 3 {
			out[3] = redactNetworks(args.Properties(3))
		}
		if len(out) > 5 && out[5] != nil {
			out[5] = redactEnv(args.Properties(5))
		}
	case OpCreateDisk:
		if len(out) > 1 && out[1] != nil {
			out[1] = Redacted
		}
	}
	return out
}

func redactNetworks(networks Properties) interface{} {
	if networks == nil {
		return nil
	}
	out := make(Properties, len(networks))
	for name, spec := range networks {
		m, ok := spec.(map[string]interface{})
		if !ok {
			out[name] = spec
			continue
		}
		copied := make(Properties, len(m))
		for k, v := range m {
			copied[k] = v
		}
		if _, ok := copied["cloud_properties"]; ok {
			copied["cloud_properties"] = Redacted
		}
		out[name] = copied
	}
	return out
}

func redactEnv(env Properties) interface{} {
	if env == nil {
		return nil
	}
	out := Properties{}
	bosh, ok := env["bosh"].(map[string]interface{})
	if !ok {
		return out
	}
	kept := Properties{}
	for _, key := range envKeep {
		if v, ok := bosh[key]; ok {
			kept[key] = v
		}
	}
	if len(kept) > 0 {
		out["bosh"] = kept
	}
	return out
}

// Secrets collects the string values found in the redacted argument
// positions of a call plus any extra values, longest first, so they can be
// scrubbed from free-form diagnostic text.
func Secrets(op Operation, args Args, extra ...interface{}) []string {
	var values []interface{}
	switch op {
	case OpCreateVM:
		values = append(values, args.Properties(2))
		for _, spec := range args.Properties(3) {
			if m, ok := spec.(map[string]interface{}); ok {
				values = append(values, m["cloud_properties"])
			}
		}
		env := args.Properties(5)
		for k, v := range env {
			if k != "bosh" {
				values = append(values, v)
			}
		}
		if bosh, ok := env["bosh"].(map[string]interface{}); ok {
			for k, v := range bosh {
				if !contains(envKeep, k) {
					values = append(values, v)
				}
			}
		}
	case OpCreateDisk:
		values = append(values, args.Properties(1))
	}
	values = append(values, extra...)

	seen := make(map[string]bool)
	var secrets []string
	for _, v := range values {
		collectStrings(v, func(s string) {
			if len(s) >= 4 && !seen[s] {
				seen[s] = true
				secrets = append(secrets, s)
			}
		})
	}
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })
	return secrets
}

// Scrub replaces every occurrence of each secret in text.
func Scrub(text string, secrets []string) string {
	for _, s := range secrets {
		text = strings.ReplaceAll(text, s, Redacted)
	}
	return text
}

func collectStrings(v interface{}, fn func(string)) {
	switch t := v.(type) {
	case string:
		fn(t)
	case map[string]interface{}:
		for _, item := range t {
			collectStrings(item, fn)
		}
	case []interface{}:
		for _, item := range t {
			collectStrings(item, fn)
		}
	case []string:
		for _, item := range t {
			fn(item)
		}
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
