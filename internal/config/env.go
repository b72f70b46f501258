package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// environ merges dotenv values under the process environment.
func environ(dotenv map[string]string) map[string]string {
	out := make(map[string]string, len(dotenv))
	for k, v := range dotenv {
		out[k] = v
	}
	for k, v := range env.ToMap(os.Environ()) {
		out[k] = v
	}
	return out
}

// applyEnv sets every field tagged `env:"NAME"` whose variable is present
// in vars. Blank values are ignored and list entries are trimmed.
func applyEnv(cfg *Config, vars map[string]string) error {
	trimmed := make(map[string]string, len(vars))
	for k, v := range vars {
		if v = strings.TrimSpace(v); v != "" {
			trimmed[k] = v
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: trimmed}); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	cfg.KeyCandidates = cleanList(cfg.KeyCandidates)
	cfg.Metrics.Tags = cleanList(cfg.Metrics.Tags)
	return nil
}

func cleanList(in []string) []string {
	if in == nil {
		return nil
	}
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
