package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
)

const providerEnvPrefix = "CONNECT_OAUTH_"

// parseEnv overlays CONNECT_* variables. Unset variables keep the current
// value. Provider variables are CONNECT_OAUTH_<KEY>_<FIELD>; a key that only
// appears in the environment defines a new provider.
func parseEnv(config *Config, environ map[string]string) error {
	if err := env.ParseWithOptions(config, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	for _, key := range providerKeys(config, environ) {
		p := config.Providers[key]
		opts := env.Options{
			Environment: environ,
			Prefix:      providerEnvPrefix + strings.ToUpper(key) + "_",
		}
		if err := env.ParseWithOptions(&p, opts); err != nil {
			return fmt.Errorf("parse env for provider %s: %w", key, err)
		}
		config.Providers[key] = p
	}

	return nil
}

func providerKeys(config *Config, environ map[string]string) []string {
	seen := make(map[string]struct{}, len(config.Providers))
	for k := range config.Providers {
		seen[k] = struct{}{}
	}
	for name := range environ {
		rest, ok := strings.CutPrefix(name, providerEnvPrefix)
		if !ok {
			continue
		}
		key, ok := strings.CutSuffix(rest, "_CLIENT_ID")
		if !ok || key == "" {
			continue
		}
		seen[strings.ToLower(key)] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
