package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseOptions decodes provider options given inline, as YAML or JSON.
// An empty string yields nil.
func ParseOptions(s string) (map[string]interface{}, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var opts map[string]interface{}
	if err := yaml.Unmarshal([]byte(s), &opts); err != nil {
		return nil, fmt.Errorf("failed to parse provider options: %w", err)
	}
	if opts == nil {
		return nil, fmt.Errorf("provider options must be a mapping")
	}
	return opts, nil
}

// ParseEnv parses KEY=VALUE pairs.
func ParseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment entry %q (expected KEY=VALUE)", pair)
		}
		env[key] = value
	}
	return env, nil
}
