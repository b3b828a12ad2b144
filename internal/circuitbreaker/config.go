package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Settings is the env/config facing form of Config
type Settings struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
}

// ModelSettings returns breaker settings for model endpoints (CB_MODEL_*)
func ModelSettings() Settings {
	return Settings{
		MaxRequests:      getEnvUint32("CB_MODEL_MAX_REQUESTS", 3),
		Interval:         getEnvDuration("CB_MODEL_INTERVAL", 60*time.Second),
		Timeout:          getEnvDuration("CB_MODEL_TIMEOUT", 20*time.Second),
		FailureThreshold: getEnvUint32("CB_MODEL_FAILURE_THRESHOLD", 5),
		SuccessThreshold: getEnvUint32("CB_MODEL_SUCCESS_THRESHOLD", 2),
	}
}

// ToolSettings returns breaker settings for external tools (CB_TOOL_*)
func ToolSettings() Settings {
	return Settings{
		MaxRequests:      getEnvUint32("CB_TOOL_MAX_REQUESTS", 2),
		Interval:         getEnvDuration("CB_TOOL_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_TOOL_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_TOOL_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_TOOL_SUCCESS_THRESHOLD", 1),
	}
}

// Merge fills zero fields of s from defaults
func (s Settings) Merge(defaults Settings) Settings {
	if s.MaxRequests == 0 {
		s.MaxRequests = defaults.MaxRequests
	}
	if s.Interval == 0 {
		s.Interval = defaults.Interval
	}
	if s.Timeout == 0 {
		s.Timeout = defaults.Timeout
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = defaults.FailureThreshold
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = defaults.SuccessThreshold
	}
	return s
}

// ToConfig converts settings to a breaker Config
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
