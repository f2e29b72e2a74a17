package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the environment
const EnvPrefix = "HFFETCH"

// Config holds all configuration values for hf-fetch
type Config struct {
	ModelsDir      string  // Root directory models are downloaded into
	MetadataFile   string  // JSON file holding downloaded version tokens
	HistoryDB      string  // SQLite database of download attempts
	CacheDB        string  // bbolt file caching hub API responses
	GlobalCacheDir string  // Shared hub cache searched for staging files
	Endpoint       string  // Hub base URL
	Token          string  // Hub access token, optional
	LogLevel       string  // Logging level (DEBUG, INFO, WARN, ERROR, FATAL)
	DiskHeadroom   float64 // Extra free space required on top of the download size, as a fraction

	MaxConcurrent int // Parallel downloads in queue mode
	MaxRetries    int // Attempts per file
	SpeedWindow   int // Samples kept by the speed estimator

	RetryBaseDelay    time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	SearchWarnAfter   time.Duration
	StopTimeout       time.Duration
	CacheTTL          time.Duration
}

// defaults applied when a key is not set
var defaults = map[string]any{
	"models_dir":         "models",
	"metadata_file":      "data/metadata.json",
	"history_db":         "data/history.db",
	"cache_db":           "data/cache.db",
	"global_cache_dir":   "",
	"endpoint":           "https://huggingface.co",
	"token":              "",
	"log_level":          "INFO",
	"disk_headroom":      0.1,
	"max_concurrent":     2,
	"max_retries":        3,
	"speed_window":       10,
	"retry_base_delay":   2 * time.Second,
	"poll_interval":      100 * time.Millisecond,
	"heartbeat_interval": 500 * time.Millisecond,
	"search_warn_after":  2 * time.Second,
	"stop_timeout":       30 * time.Second,
	"cache_ttl":          300 * time.Second,
}

// LoadConfig loads and validates the configuration from the environment,
// reading a .env file first when one exists
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	v := newViper()

	validator := NewEnvValidator(v)
	if err := validator.ValidateFormats(); err != nil {
		return nil, fmt.Errorf("environment validation failed: %w", err)
	}

	cfg := &Config{
		ModelsDir:         v.GetString("models_dir"),
		MetadataFile:      v.GetString("metadata_file"),
		HistoryDB:         v.GetString("history_db"),
		CacheDB:           v.GetString("cache_db"),
		GlobalCacheDir:    v.GetString("global_cache_dir"),
		Endpoint:          strings.TrimRight(v.GetString("endpoint"), "/"),
		Token:             validator.GetToken(),
		LogLevel:          strings.ToUpper(v.GetString("log_level")),
		DiskHeadroom:      v.GetFloat64("disk_headroom"),
		MaxConcurrent:     v.GetInt("max_concurrent"),
		MaxRetries:        v.GetInt("max_retries"),
		SpeedWindow:       v.GetInt("speed_window"),
		RetryBaseDelay:    v.GetDuration("retry_base_delay"),
		PollInterval:      v.GetDuration("poll_interval"),
		HeartbeatInterval: v.GetDuration("heartbeat_interval"),
		SearchWarnAfter:   v.GetDuration("search_warn_after"),
		StopTimeout:       v.GetDuration("stop_timeout"),
		CacheTTL:          v.GetDuration("cache_ttl"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// The hub's own variable names are honoured after ours
	v.BindEnv("token", EnvPrefix+"_TOKEN", "HF_TOKEN")
	v.BindEnv("endpoint", EnvPrefix+"_ENDPOINT", "HF_ENDPOINT")
	return v
}

// Validate performs additional validation on the loaded configuration
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return fmt.Errorf("models directory cannot be empty")
	}

	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http(s) URL, got: %q", c.Endpoint)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent downloads must be at least 1, got: %d", c.MaxConcurrent)
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got: %d", c.MaxRetries)
	}

	if c.DiskHeadroom < 0 {
		return fmt.Errorf("disk headroom cannot be negative, got: %v", c.DiskHeadroom)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got: %v", c.PollInterval)
	}

	validLogLevels := map[string]bool{
		"DEBUG": true,
		"INFO":  true,
		"WARN":  true,
		"ERROR": true,
		"FATAL": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s. Valid levels are: DEBUG, INFO, WARN, ERROR, FATAL", c.LogLevel)
	}

	return nil
}
