package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty document yields defaults",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Fleet.UnitCapacity != 5 || cfg.Fleet.UnitCeiling != 2 || cfg.Fleet.DayWorkerCeiling != 10 {
					t.Errorf("unexpected fleet defaults: %+v", cfg.Fleet)
				}
				if cfg.Dispatch.JoinOrder != "spawn" {
					t.Errorf("join_order = %q, want spawn", cfg.Dispatch.JoinOrder)
				}
				if cfg.API.Enabled {
					t.Error("api should be disabled by default")
				}
			},
		},
		{
			name: "fleet and dispatch overrides",
			yaml: `
service:
  log_level: DEBUG
fleet:
  unit_capacity: 8
  unit_ceiling: 3
  day_worker_ceiling: 0
dispatch:
  join_order: completion
  join_timeout: 30s
  max_live_units: 4
  departure_hook:
    command: /usr/local/bin/depart
    args: ["--quiet"]
    timeout: 10s
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" {
					t.Errorf("log_level = %q, want debug", cfg.Service.LogLevel)
				}
				if cfg.Fleet.UnitCapacity != 8 || cfg.Fleet.UnitCeiling != 3 || cfg.Fleet.DayWorkerCeiling != 0 {
					t.Errorf("unexpected fleet: %+v", cfg.Fleet)
				}
				if cfg.Dispatch.JoinTimeout != 30*time.Second {
					t.Errorf("join_timeout = %v", cfg.Dispatch.JoinTimeout)
				}
				hook := cfg.Dispatch.DepartureHook
				if hook == nil || hook.Command != "/usr/local/bin/depart" || hook.Timeout != 10*time.Second {
					t.Fatalf("unexpected hook: %+v", hook)
				}
				if len(hook.Args) != 1 || hook.Args[0] != "--quiet" {
					t.Errorf("unexpected hook args: %v", hook.Args)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${BUSDISPATCH_TEST_DB}
api:
  enabled: true
  listen: 127.0.0.1:9090
  api_key: ${BUSDISPATCH_TEST_KEY}
`,
			env: map[string]string{
				"BUSDISPATCH_TEST_DB":  "/tmp/busdispatch.db",
				"BUSDISPATCH_TEST_KEY": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "/tmp/busdispatch.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				if cfg.API.APIKey != "secret123" {
					t.Errorf("api.api_key = %q", cfg.API.APIKey)
				}
			},
		},
		{
			name:    "zero capacity",
			yaml:    "fleet:\n  unit_capacity: 0\n",
			wantErr: "fleet.unit_capacity must be gt 0",
		},
		{
			name:    "negative ceiling",
			yaml:    "fleet:\n  unit_ceiling: -1\n",
			wantErr: "fleet.unit_ceiling must be gt 0",
		},
		{
			name:    "unknown join order",
			yaml:    "dispatch:\n  join_order: random\n",
			wantErr: "dispatch.join_order must be one of",
		},
		{
			name:    "hook without command",
			yaml:    "dispatch:\n  departure_hook:\n    timeout: 5s\n",
			wantErr: "dispatch.departure_hook.command is required",
		},
		{
			name:    "api enabled without key",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api.api_key is required",
		},
		{
			name:    "api key env var unset",
			yaml:    "api:\n  enabled: true\n  api_key: ${BUSDISPATCH_TEST_UNSET}\n",
			wantErr: "${BUSDISPATCH_TEST_UNSET} is not set",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level must be one of",
		},
		{
			name:    "malformed yaml",
			yaml:    "fleet: [",
			wantErr: "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Parse() error = nil, want %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Parse() error = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
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
			input: "path: ${BD_ROOT}/data",
			env:   map[string]string{"BD_ROOT": "/srv"},
			want:  "path: /srv/data",
		},
		{
			name:  "multiple vars",
			input: "${BD_USER}:${BD_PASS}",
			env:   map[string]string{"BD_USER": "admin", "BD_PASS": "secret"},
			want:  "admin:secret",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${BD_UNDEFINED}",
			want:  "key: ${BD_UNDEFINED}",
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
			if got := interpolateEnv(tt.input); got != tt.want {
				t.Errorf("interpolateEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "fleet:\n  unit_capacity: 3\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(file) error = %v", err)
	}
	if cfg.Fleet.UnitCapacity != 3 {
		t.Errorf("unit_capacity = %d, want 3", cfg.Fleet.UnitCapacity)
	}
	if cfg.SourcePath != path {
		t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, path)
	}

	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.SourcePath != path {
		t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, path)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without config.yaml")
	}
}

func TestLoadOrDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	path := writeConfig(t, dir, "fleet:\n  unit_ceiling: 4\n")
	t.Setenv("BUSDISPATCH_CONFIG", path)

	cfg, err := LoadOrDefaults("")
	if err != nil {
		t.Fatalf("LoadOrDefaults() error = %v", err)
	}
	if cfg.Fleet.UnitCeiling != 4 {
		t.Errorf("unit_ceiling = %d, want 4", cfg.Fleet.UnitCeiling)
	}

	found, err := Discover()
	if err != nil || found != path {
		t.Fatalf("Discover() = %q, %v; want %q", found, err, path)
	}
}
