package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var (
	envVarPattern   = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	envNamePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	quantityPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(m|[KMGTPE]i?)?$`)
)

// Load reads and parses configuration from a file.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		// Directory provided - look for trestle.yaml inside
		absPath = filepath.Join(absPath, "trestle.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but trestle.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation before parsing
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $TRESTLE_CONFIG, ~/.config/trestle/trestle.yaml, ./trestle.yaml.
// The --config flag bypasses discovery entirely.
func Discover() (string, error) {
	// 1. Check environment variable
	if path := os.Getenv("TRESTLE_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// 2. Check user config directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigPath := filepath.Join(homeDir, ".config", "trestle", "trestle.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			return userConfigPath, nil
		}
	}

	// 3. Fallback to current directory
	localPath := "./trestle.yaml"
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $TRESTLE_CONFIG, ~/.config/trestle/trestle.yaml, ./trestle.yaml)")
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Sandboxes == nil {
		cfg.Sandboxes = make(map[string]SandboxConfig)
	}
	if cfg.Credentials == nil {
		cfg.Credentials = make(map[string]CredentialConf)
	}

	if cfg.Results.Path == "" {
		cfg.Results.Path = defaults.Results.Path
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}

	if cfg.DSL.Path == "" {
		cfg.DSL.Path = defaults.DSL.Path
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR}
		varName := envVarPattern.FindStringSubmatch(match)[1]

		// Look up environment variable
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	// Service validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[cfg.Service.LogFormat] {
		return fmt.Errorf("service.log_format must be one of: json, text (got %q)", cfg.Service.LogFormat)
	}

	// Unit list validation
	seen := make(map[string]bool)
	for i, unit := range cfg.Units {
		if unit == "" {
			return fmt.Errorf("units[%d] must not be empty", i)
		}
		if seen[unit] {
			return fmt.Errorf("units[%d]: duplicate unit %q", i, unit)
		}
		seen[unit] = true
	}

	// Sandbox validation
	for id, sandbox := range cfg.Sandboxes {
		if sandbox.Image == "" {
			return fmt.Errorf("sandbox %q: image is required", id)
		}
		quantities := []struct {
			field string
			value string
		}{
			{"cpu_request", sandbox.CPURequest},
			{"memory_request", sandbox.MemoryRequest},
			{"memory_limit", sandbox.MemoryLimit},
			{"storage_request", sandbox.StorageRequest},
			{"storage_limit", sandbox.StorageLimit},
		}
		for _, q := range quantities {
			if q.value == "" {
				continue
			}
			if !quantityPattern.MatchString(q.value) {
				return fmt.Errorf("sandbox %q: %s: invalid quantity %q (expected Kubernetes format, e.g. \"500m\", \"2Gi\")",
					id, q.field, q.value)
			}
		}
	}

	// Credential validation
	for id, cred := range cfg.Credentials {
		if id == "" {
			return fmt.Errorf("credentials: id must not be empty")
		}
		if cred.Env != "" && !envNamePattern.MatchString(cred.Env) {
			return fmt.Errorf("credential %q: env must be a valid environment variable name (got %q)", id, cred.Env)
		}
	}

	// Results validation
	if cfg.Results.Path == "" {
		return fmt.Errorf("results.path is required")
	}

	// API auth validation
	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			if len(matches) > 1 {
				return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
			}
			return fmt.Errorf("api.auth.api_key: unresolved environment variable")
		}
	}

	return nil
}
