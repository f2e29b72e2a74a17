package config

import (
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable LoadConfig reads; viper treats empty values as unset
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(EnvName(key), "")
	}
	t.Setenv("HF_TOKEN", "")
	t.Setenv("HF_ENDPOINT", "")
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.ModelsDir != "models" || cfg.Endpoint != "https://huggingface.co" {
					t.Errorf("unexpected defaults: %+v", cfg)
				}
				if cfg.MaxConcurrent != 2 || cfg.MaxRetries != 3 || cfg.SpeedWindow != 10 {
					t.Errorf("unexpected numeric defaults: %+v", cfg)
				}
				if cfg.PollInterval != 100*time.Millisecond || cfg.HeartbeatInterval != 500*time.Millisecond {
					t.Errorf("unexpected interval defaults: %+v", cfg)
				}
				if cfg.StopTimeout != 30*time.Second || cfg.CacheTTL != 300*time.Second {
					t.Errorf("unexpected timeout defaults: %+v", cfg)
				}
				if cfg.DiskHeadroom != 0.1 || cfg.LogLevel != "INFO" {
					t.Errorf("unexpected defaults: %+v", cfg)
				}
			},
		},
		{
			name: "overrides",
			envVars: map[string]string{
				"HFFETCH_MODELS_DIR":     "/srv/models",
				"HFFETCH_MAX_CONCURRENT": "4",
				"HFFETCH_POLL_INTERVAL":  "250ms",
				"HFFETCH_DISK_HEADROOM":  "0.25",
				"HFFETCH_LOG_LEVEL":      "debug",
				"HFFETCH_ENDPOINT":       "https://mirror.example.com/",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.ModelsDir != "/srv/models" || cfg.MaxConcurrent != 4 {
					t.Errorf("overrides not applied: %+v", cfg)
				}
				if cfg.PollInterval != 250*time.Millisecond || cfg.DiskHeadroom != 0.25 {
					t.Errorf("overrides not applied: %+v", cfg)
				}
				if cfg.LogLevel != "DEBUG" {
					t.Errorf("expected log level to be upper-cased, got %q", cfg.LogLevel)
				}
				if cfg.Endpoint != "https://mirror.example.com" {
					t.Errorf("expected trailing slash trimmed, got %q", cfg.Endpoint)
				}
			},
		},
		{
			name:    "hub token fallback",
			envVars: map[string]string{"HF_TOKEN": "hf_fallback"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Token != "hf_fallback" {
					t.Errorf("expected HF_TOKEN to be used, got %q", cfg.Token)
				}
			},
		},
		{
			name:    "own token wins",
			envVars: map[string]string{"HF_TOKEN": "hf_fallback", "HFFETCH_TOKEN": "hf_own"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Token != "hf_own" {
					t.Errorf("expected HFFETCH_TOKEN to win, got %q", cfg.Token)
				}
			},
		},
		{
			name:        "malformed integer",
			envVars:     map[string]string{"HFFETCH_MAX_RETRIES": "three"},
			expectError: true,
			errorMsg:    "environment validation failed",
		},
		{
			name:        "malformed duration",
			envVars:     map[string]string{"HFFETCH_STOP_TIMEOUT": "30"},
			expectError: true,
			errorMsg:    "environment validation failed",
		},
		{
			name:        "invalid log level",
			envVars:     map[string]string{"HFFETCH_LOG_LEVEL": "VERBOSE"},
			expectError: true,
			errorMsg:    "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := LoadConfig()

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
					return
				}
				if tt.errorMsg != "" && !strings.HasPrefix(err.Error(), tt.errorMsg) {
					t.Errorf("expected error message to start with %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error but got: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func validConfig() *Config {
	return &Config{
		ModelsDir:     "models",
		Endpoint:      "https://huggingface.co",
		LogLevel:      "INFO",
		MaxConcurrent: 2,
		MaxRetries:    3,
		PollInterval:  100 * time.Millisecond,
		DiskHeadroom:  0.1,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{"valid configuration", func(c *Config) {}, ""},
		{"valid DEBUG log level", func(c *Config) { c.LogLevel = "DEBUG" }, ""},
		{"zero headroom", func(c *Config) { c.DiskHeadroom = 0 }, ""},
		{"empty models dir", func(c *Config) { c.ModelsDir = "" }, "models directory cannot be empty"},
		{"non-http endpoint", func(c *Config) { c.Endpoint = "ftp://hub" }, "endpoint must be an http(s) URL"},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, "max concurrent downloads must be at least 1"},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }, "max retries must be at least 1"},
		{"negative headroom", func(c *Config) { c.DiskHeadroom = -0.5 }, "disk headroom cannot be negative"},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "poll interval must be positive"},
		{"invalid log level", func(c *Config) { c.LogLevel = "INVALID" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("expected no error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("expected error but got none")
				return
			}
			if !strings.HasPrefix(err.Error(), tt.errorMsg) {
				t.Errorf("expected error message to start with %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}
