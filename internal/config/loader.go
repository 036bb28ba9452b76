package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var validDrivers = map[string]bool{"sqlite": true, "postgres": true, "pgx": true}

// Load reads, interpolates and validates the configuration at configPath.
// When a lock file sits next to the config, the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if err := VerifyLock(absPath); err != nil && !errors.Is(err, ErrLockMissing) {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse interpolates environment variables into data, decodes it over
// Defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} with environment variable values. Unset
// variables are left in place and rejected by validation where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive")
	}
	if cfg.Command.Concurrency <= 0 {
		return fmt.Errorf("command.concurrency must be positive")
	}
	if cfg.Command.Timeout < 0 {
		return fmt.Errorf("command.timeout must not be negative")
	}
	if cfg.Command.CircuitBreaker.Threshold == 0 {
		return fmt.Errorf("command.circuit_breaker.threshold must be positive")
	}
	if cfg.Metrics.Namespace == "" {
		return fmt.Errorf("metrics.namespace is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := unresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	for name, pool := range cfg.Datasource.Pools {
		if !validDrivers[pool.Driver] {
			return fmt.Errorf("datasource.pools.%s.driver must be one of: sqlite, postgres, pgx (got %q)", name, pool.Driver)
		}
		if pool.URL == "" {
			return fmt.Errorf("datasource.pools.%s.url is required", name)
		}
		if err := unresolved(fmt.Sprintf("datasource.pools.%s.password", name), pool.Password); err != nil {
			return err
		}
	}
	for module, pool := range cfg.Datasource.Modules {
		if _, ok := cfg.Datasource.Pools[pool]; !ok {
			return fmt.Errorf("datasource.modules.%s references unknown pool %q", module, pool)
		}
	}

	for id, layer := range cfg.Layers {
		if layer.URL == "" {
			return fmt.Errorf("layers.%s.url is required", id)
		}
		u, err := url.Parse(layer.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("layers.%s.url must be an absolute URL (got %q)", id, layer.URL)
		}
	}
	return nil
}
