package config

// Config represents the complete trestle configuration.
type Config struct {
	Service     ServiceConfig             `yaml:"service"`
	Units       []string                  `yaml:"units,omitempty"`
	Sandboxes   map[string]SandboxConfig  `yaml:"sandboxes,omitempty"`
	Credentials map[string]CredentialConf `yaml:"credentials,omitempty"`
	Results     ResultsConfig             `yaml:"results"`
	API         APIConfig                 `yaml:"api,omitempty"`
	DSL         DSLConfig                 `yaml:"dsl,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// SandboxConfig defines one execution environment steps can reference
// by id. Resource quantities use the Kubernetes format ("500m", "2Gi").
type SandboxConfig struct {
	Image          string `yaml:"image"`
	CPURequest     string `yaml:"cpu_request,omitempty"`
	MemoryRequest  string `yaml:"memory_request,omitempty"`
	MemoryLimit    string `yaml:"memory_limit,omitempty"`
	StorageRequest string `yaml:"storage_request,omitempty"`
	StorageLimit   string `yaml:"storage_limit,omitempty"`
}

// CredentialConf declares one credential id the execution environment
// provides. Steps bind these ids; the secret itself never enters the
// config file.
type CredentialConf struct {
	Description string `yaml:"description,omitempty"`
	Env         string `yaml:"env,omitempty"`
}

// ResultsConfig defines the local run-results cache settings.
type ResultsConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// DSLConfig defines where the descriptor dump envelope is written, used
// as the default target for drift checks.
type DSLConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "trestle",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Sandboxes:   make(map[string]SandboxConfig),
		Credentials: make(map[string]CredentialConf),
		Results: ResultsConfig{
			Path: "./data/results.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8321",
			Auth: APIAuthConfig{
				APIKey: "",
			},
		},
		DSL: DSLConfig{
			Path: "./trestle.dsl.json",
		},
	}
}
