package config

import "time"

// Config represents the complete layerqueue configuration.
type Config struct {
	Service    ServiceConfig          `yaml:"service"`
	API        APIConfig              `yaml:"api,omitempty"`
	Queue      QueueConfig            `yaml:"queue"`
	Command    CommandConfig          `yaml:"command"`
	Metrics    MetricsConfig          `yaml:"metrics"`
	Datasource DatasourceConfig       `yaml:"datasource"`
	Layers     map[string]LayerConfig `yaml:"layers"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// QueueConfig sizes the plain worker pool.
type QueueConfig struct {
	Workers int `yaml:"workers"`
}

// CommandConfig configures the command engine.
type CommandConfig struct {
	Concurrency    int                  `yaml:"concurrency"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig is applied to every breaker group.
type CircuitBreakerConfig struct {
	Threshold        uint32        `yaml:"threshold"`
	ResetAfter       time.Duration `yaml:"reset_after"`
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
}

// MetricsConfig names the exported metric families.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// DatasourceConfig maps modules to database pools.
type DatasourceConfig struct {
	DefaultName string                `yaml:"default_name"`
	Modules     map[string]string     `yaml:"modules,omitempty"`
	Pools       map[string]PoolConfig `yaml:"pools,omitempty"`
}

// PoolConfig describes one database pool.
type PoolConfig struct {
	Driver   string `yaml:"driver"` // sqlite, postgres or pgx
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	MaxOpen  int    `yaml:"max_open,omitempty"`
}

// LayerConfig describes one map layer service.
type LayerConfig struct {
	URL           string   `yaml:"url"`
	Types         []string `yaml:"types,omitempty"`
	IgnoredParams []string `yaml:"ignored_params,omitempty"`
	Module        string   `yaml:"module,omitempty"`
}

// Allows reports whether the layer accepts jobs of type t. An empty
// Types list accepts every type.
func (l LayerConfig) Allows(t string) bool {
	if len(l.Types) == 0 {
		return true
	}
	for _, allowed := range l.Types {
		if allowed == t {
			return true
		}
	}
	return false
}

// Defaults returns a configuration with every optional field filled in.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "layerqueue",
			LogLevel:  "info",
			LogFormat: "json",
			PIDFile:   "layerqueue.pid",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8088",
		},
		Queue: QueueConfig{Workers: 4},
		Command: CommandConfig{
			Concurrency: 10,
			Timeout:     30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Threshold:        5,
				ResetAfter:       30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Metrics:    MetricsConfig{Namespace: "layerqueue"},
		Datasource: DatasourceConfig{DefaultName: "default"},
	}
}
