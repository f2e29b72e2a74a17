package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	intKeys      = []string{"max_concurrent", "max_retries", "speed_window"}
	floatKeys    = []string{"disk_headroom"}
	durationKeys = []string{"retry_base_delay", "poll_interval", "heartbeat_interval", "search_warn_after", "stop_timeout", "cache_ttl"}
)

// EnvValidator checks that typed environment values parse before they are
// read, since viper's typed getters turn malformed input into zero values
type EnvValidator struct {
	v *viper.Viper
}

// NewEnvValidator creates a new environment validator over v
func NewEnvValidator(v *viper.Viper) *EnvValidator {
	return &EnvValidator{v: v}
}

// ValidateFormats returns an error naming every variable whose value does not parse
func (e *EnvValidator) ValidateFormats() error {
	var invalid []string

	check := func(keys []string, parse func(string) error) {
		for _, key := range keys {
			if !e.v.IsSet(key) {
				continue
			}
			raw, ok := e.v.Get(key).(string)
			if !ok {
				continue
			}
			if err := parse(raw); err != nil {
				invalid = append(invalid, EnvName(key))
			}
		}
	}

	check(intKeys, func(s string) error { _, err := strconv.Atoi(s); return err })
	check(floatKeys, func(s string) error { _, err := strconv.ParseFloat(s, 64); return err })
	check(durationKeys, func(s string) error { _, err := time.ParseDuration(s); return err })

	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("invalid environment variables: %v. Numbers must be plain integers or decimals and durations use Go syntax such as 500ms or 2s", invalid)
	}
	return nil
}

// GetToken returns the hub access token, empty when anonymous
func (e *EnvValidator) GetToken() string {
	return e.v.GetString("token")
}

// EnvName returns the environment variable a configuration key is read from
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}
