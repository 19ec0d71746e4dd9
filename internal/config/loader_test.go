package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
service:
  name: trestle-test
units:
  - examples/salesreport
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "trestle-test" {
					t.Error("service.name not parsed")
				}
				if len(cfg.Units) != 1 || cfg.Units[0] != "examples/salesreport" {
					t.Errorf("units not parsed: %v", cfg.Units)
				}
				// Check defaults applied
				if cfg.Service.LogLevel != "info" {
					t.Error("default log_level not applied")
				}
				if cfg.Service.LogFormat != "json" {
					t.Error("default log_format not applied")
				}
				if cfg.Results.Path != "./data/results.db" {
					t.Error("default results.path not applied")
				}
				if cfg.API.Enabled {
					t.Error("api should default to disabled")
				}
			},
		},
		{
			name: "empty file gets full defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "trestle" {
					t.Errorf("default service name not applied: %q", cfg.Service.Name)
				}
				if cfg.Sandboxes == nil || cfg.Credentials == nil {
					t.Error("sandbox/credential maps should be initialized")
				}
			},
		},
		{
			name: "sandboxes and credentials",
			yaml: `
sandboxes:
  py-slim:
    image: python:3.11-slim
    cpu_request: 500m
    memory_request: 512Mi
    memory_limit: 1Gi
  heavy:
    image: ubuntu:24.04
    storage_request: 10Gi
    storage_limit: 50Gi
credentials:
  github-token:
    description: GitHub API token
    env: GITHUB_TOKEN
`,
			checkFn: func(t *testing.T, cfg *Config) {
				sb, ok := cfg.Sandboxes["py-slim"]
				if !ok {
					t.Fatal("py-slim sandbox not found")
				}
				if sb.Image != "python:3.11-slim" {
					t.Error("sandbox image not parsed")
				}
				if sb.CPURequest != "500m" || sb.MemoryLimit != "1Gi" {
					t.Error("sandbox quantities not parsed")
				}
				cred, ok := cfg.Credentials["github-token"]
				if !ok {
					t.Fatal("github-token credential not found")
				}
				if cred.Env != "GITHUB_TOKEN" {
					t.Error("credential env not parsed")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
results:
  path: ${RESULTS_PATH}
api:
  enabled: true
  listen: 127.0.0.1:9000
  auth:
    api_key: ${TRESTLE_API_KEY}
`,
			env: map[string]string{
				"RESULTS_PATH":    "/tmp/results.db",
				"TRESTLE_API_KEY": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Results.Path != "/tmp/results.db" {
					t.Errorf("env var not interpolated in results.path: %s", cfg.Results.Path)
				}
				if cfg.API.Auth.APIKey != "secret123" {
					t.Error("env var not interpolated in api key")
				}
			},
		},
		{
			name: "missing api key env var fails validation",
			yaml: `
api:
  enabled: true
  listen: 127.0.0.1:9000
  auth:
    api_key: ${TRESTLE_MISSING_KEY}
`,
			wantErr: "TRESTLE_MISSING_KEY",
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: verbose
`,
			wantErr: "log_level",
		},
		{
			name: "invalid log format",
			yaml: `
service:
  log_format: xml
`,
			wantErr: "log_format",
		},
		{
			name: "sandbox without image",
			yaml: `
sandboxes:
  broken:
    cpu_request: 500m
`,
			wantErr: `sandbox "broken": image is required`,
		},
		{
			name: "sandbox with bad quantity",
			yaml: `
sandboxes:
  broken:
    image: python:3.11
    memory_limit: lots
`,
			wantErr: "invalid quantity",
		},
		{
			name: "credential with bad env name",
			yaml: `
credentials:
  token:
    env: "my token"
`,
			wantErr: "environment variable name",
		},
		{
			name: "duplicate units",
			yaml: `
units:
  - examples/greeter
  - examples/greeter
`,
			wantErr: "duplicate unit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "trestle.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := Load(configPath)

			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "trestle.yaml")
	if err := os.WriteFile(configPath, []byte("service:\n  name: from-dir\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Errorf("expected config from directory, got service name %q", cfg.Service.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "Hint") {
		t.Errorf("error should carry a hint: %v", err)
	}
}

func TestInterpolateEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple replacement",
			input: "path: ${HOME_DIR}/data",
			env:   map[string]string{"HOME_DIR": "/users/test"},
			want:  "path: /users/test/data",
		},
		{
			name:  "multiple vars",
			input: "${USER_X}:${PASS_X}@${HOST_X}",
			env: map[string]string{
				"USER_X": "admin",
				"PASS_X": "secret",
				"HOST_X": "localhost",
			},
			want: "admin:secret@localhost",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${UNDEFINED_VAR_XYZ}",
			want:  "key: ${UNDEFINED_VAR_XYZ}",
		},
		{
			name:  "no vars",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got := interpolateEnv(tt.input)
			if got != tt.want {
				t.Errorf("interpolateEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom.yaml")
	if err := os.WriteFile(configPath, []byte(""), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("TRESTLE_CONFIG", configPath)
	got, err := Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if got != configPath {
		t.Errorf("Discover() = %q, want %q", got, configPath)
	}
}

func TestDiscoverNothingFound(t *testing.T) {
	t.Setenv("TRESTLE_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	_, err := Discover()
	if err == nil {
		t.Fatal("expected error when no config exists")
	}
	if !strings.Contains(err.Error(), "TRESTLE_CONFIG") {
		t.Errorf("error should list checked locations: %v", err)
	}
}
