package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/inference-router/internal/httpserver"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	BackendTypeHTTP    = "http"
	BackendTypeLexicon = "lexicon"
)

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Environment  string `mapstructure:"environment"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type DispatcherConfig struct {
	Timeout string `mapstructure:"timeout"`
}

// BackendConfig describes one inference backend. Weights across all
// backends must sum to 1.
type BackendConfig struct {
	ID      string  `mapstructure:"id"`
	Type    string  `mapstructure:"type"`
	URL     string  `mapstructure:"url"`
	Version string  `mapstructure:"version"`
	Weight  float64 `mapstructure:"weight"`
	Timeout string  `mapstructure:"timeout"`
	Neutral bool    `mapstructure:"neutral"` // lexicon only
}

type CircuitBreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	ResetTimeout     string `mapstructure:"reset_timeout"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Dispatcher     DispatcherConfig     `mapstructure:"dispatcher"`
	Backends       []BackendConfig      `mapstructure:"backends"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

// Load reads configuration from path, or from config.yaml in ./config or
// the working directory when path is empty. Environment variables override
// file values (SERVER_ADDRESS, DISPATCHER_TIMEOUT, ...).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("dispatcher.timeout", "5s")
	v.SetDefault("backends", []map[string]any{
		{"id": "distilbert", "type": BackendTypeLexicon, "weight": 0.5},
		{"id": "roberta", "type": BackendTypeLexicon, "weight": 0.5},
	})
	v.SetDefault("circuit_breaker.failure_threshold", 0)
	v.SetDefault("circuit_breaker.reset_timeout", "30s")
	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("rate_limit.requests_per_second", 0)
	v.SetDefault("rate_limit.burst", 0)
	v.SetDefault("metrics.buffer_size", 1000)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.validateFields(); err != nil {
		return err
	}
	return c.validateTimeoutBudget()
}

func (c *Config) validateFields() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ReadTimeout, validation.By(validateOptionalDuration)),
					validation.Field(&sc.WriteTimeout, validation.By(validateOptionalDuration)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Dispatcher,
			validation.Required,
			validation.By(func(value interface{}) error {
				dc, ok := value.(DispatcherConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a DispatcherConfig")
				}
				return validation.ValidateStruct(&dc,
					validation.Field(&dc.Timeout,
						validation.Required,
						validation.By(validatePositiveDuration),
					),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
			validation.By(validateUniqueIDs),
		),
		validation.Field(&c.CircuitBreaker,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.FailureThreshold, validation.Min(0)),
					validation.Field(&cb.ResetTimeout,
						validation.Required.When(cb.FailureThreshold > 0),
						validation.By(validateOptionalDuration),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.Required,
						validation.By(validatePositiveDuration),
					),
				)
			}),
		),
		validation.Field(&c.RateLimit,
			validation.By(func(value interface{}) error {
				rl, ok := value.(RateLimitConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RateLimitConfig")
				}
				return validation.ValidateStruct(&rl,
					validation.Field(&rl.RequestsPerSecond, validation.Min(0.0)),
					validation.Field(&rl.Burst, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.Required,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
				)
			}),
		),
	)
}

// validateTimeoutBudget requires every invocation timeout to end before
// the server's write timeout, or a slow backend's 504 is never delivered.
func (c *Config) validateTimeoutBudget() error {
	write := ParseDuration(c.Server.WriteTimeout)
	if write == 0 {
		write = httpserver.DefaultWriteTimeout
	}

	tooLong := func(timeout string) validation.Errors {
		return validation.Errors{"timeout": validation.NewError(
			"validation_timeout_exceeds_write_timeout",
			fmt.Sprintf("%s must be shorter than server.write_timeout (%s)", timeout, write),
		)}
	}

	errs := validation.Errors{}
	if ParseDuration(c.Dispatcher.Timeout) >= write {
		errs["dispatcher"] = tooLong(c.Dispatcher.Timeout)
	}

	backendErrs := validation.Errors{}
	for i, b := range c.Backends {
		if ParseDuration(b.Timeout) >= write {
			backendErrs[strconv.Itoa(i)] = tooLong(b.Timeout)
		}
	}
	if len(backendErrs) > 0 {
		errs["backends"] = backendErrs
	}

	return errs.Filter()
}

// Weights returns the configured routing weights keyed by backend id.
func (c *Config) Weights() map[string]float64 {
	weights := make(map[string]float64, len(c.Backends))
	for _, b := range c.Backends {
		weights[b.ID] = b.Weight
	}
	return weights
}

// ParseDuration parses a validated duration field; empty yields 0.
func ParseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d <= 0 {
		return validation.NewError("validation_nonpositive_duration", "must be greater than zero")
	}

	return nil
}

func validateOptionalDuration(value interface{}) error {
	if s, ok := value.(string); ok && s == "" {
		return nil
	}
	return validatePositiveDuration(value)
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "server URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	return validation.ValidateStruct(&backend,
		validation.Field(&backend.ID, validation.Required),
		validation.Field(&backend.Type,
			validation.Required,
			validation.In(BackendTypeHTTP, BackendTypeLexicon),
		),
		validation.Field(&backend.URL,
			validation.When(backend.Type == BackendTypeHTTP, validation.By(validateServerURL)),
		),
		validation.Field(&backend.Weight, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&backend.Timeout, validation.By(validateOptionalDuration)),
	)
}

func validateUniqueIDs(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a []BackendConfig")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		if _, dup := seen[b.ID]; dup {
			return validation.NewError("validation_duplicate_backend", fmt.Sprintf("duplicate backend id %q", b.ID))
		}
		seen[b.ID] = struct{}{}
	}

	return nil
}
