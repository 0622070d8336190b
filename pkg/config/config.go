// Package config provides configuration loading and validation for the
// teledigest CLI. The aggregation core never reads configuration itself; the
// typed policies returned here are handed to it explicitly.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/teledigest/pkg/accumulate"
	"github.com/Sumatoshi-tech/teledigest/pkg/observability"
	"github.com/Sumatoshi-tech/teledigest/pkg/quality"
	"github.com/Sumatoshi-tech/teledigest/pkg/retry"
	"github.com/Sumatoshi-tech/teledigest/pkg/version"
)

// Sentinel validation errors.
var (
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidSampleRatio = errors.New("sample ratio must be within [0, 1]")
	ErrInvalidEngine      = errors.New("invalid engine settings")
	ErrInvalidQuality     = errors.New("invalid quality settings")
	ErrInvalidRetry       = errors.New("invalid retry settings")
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// envPrefix namespaces environment overrides, e.g. TELEDIGEST_RETRY_MAX_ATTEMPTS.
const envPrefix = "TELEDIGEST"

// Config holds all configuration for the teledigest CLI.
type Config struct {
	Engine        EngineConfig        `mapstructure:"engine"`
	Quality       QualityConfig       `mapstructure:"quality"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// EngineConfig holds the accumulation constants.
type EngineConfig struct {
	HomeSitePatterns      []string `mapstructure:"home_site_patterns"`
	DistanceUnitThreshold float64  `mapstructure:"distance_unit_threshold"`
	DistanceUnitFactor    float64  `mapstructure:"distance_unit_factor"`
	FahrenheitThreshold   float64  `mapstructure:"fahrenheit_threshold"`
	HomePriceThreshold    float64  `mapstructure:"home_price_threshold"`
	BatteryCapacityKWh    float64  `mapstructure:"battery_capacity_kwh"`
	ReservoirCapacity     int      `mapstructure:"reservoir_capacity"`
	// Seed makes reservoir sampling reproducible. Zero seeds randomly.
	Seed uint64 `mapstructure:"seed"`
}

// QualityConfig holds the gap analysis thresholds.
type QualityConfig struct {
	GapThreshold         time.Duration `mapstructure:"gap_threshold"`
	MajorGapThreshold    time.Duration `mapstructure:"major_gap_threshold"`
	TargetRecordsPerHour float64       `mapstructure:"target_records_per_hour"`
}

// RetryConfig holds the resilient fetch policy.
type RetryConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxJitter   time.Duration `mapstructure:"max_jitter"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig holds tracing and metrics export settings.
type ObservabilityConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	Prometheus   bool    `mapstructure:"prometheus"`
}

// LoadConfig loads configuration from file and environment variables. An
// empty path searches teledigest.yaml in ., ./config and /etc/teledigest and
// tolerates its absence.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("teledigest")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/teledigest")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Engine defaults.
	viperCfg.SetDefault("engine.reservoir_capacity", DefaultReservoirCapacity)
	viperCfg.SetDefault("engine.distance_unit_threshold", DefaultDistanceUnitThreshold)
	viperCfg.SetDefault("engine.distance_unit_factor", DefaultDistanceUnitFactor)
	viperCfg.SetDefault("engine.fahrenheit_threshold", DefaultFahrenheitThreshold)
	viperCfg.SetDefault("engine.home_site_patterns", DefaultHomeSitePatterns())
	viperCfg.SetDefault("engine.home_price_threshold", DefaultHomePriceThreshold)
	viperCfg.SetDefault("engine.battery_capacity_kwh", DefaultBatteryCapacityKWh)
	viperCfg.SetDefault("engine.seed", DefaultSeed)

	// Quality defaults.
	viperCfg.SetDefault("quality.gap_threshold", DefaultGapThreshold)
	viperCfg.SetDefault("quality.major_gap_threshold", DefaultMajorGapThreshold)
	viperCfg.SetDefault("quality.target_records_per_hour", DefaultTargetRecordsPerHour)

	// Retry defaults.
	viperCfg.SetDefault("retry.max_attempts", DefaultMaxAttempts)
	viperCfg.SetDefault("retry.base_delay", DefaultBaseDelay)
	viperCfg.SetDefault("retry.max_jitter", DefaultMaxJitter)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	// Observability defaults.
	viperCfg.SetDefault("observability.service_name", DefaultServiceName)
	viperCfg.SetDefault("observability.environment", "")
	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.sample_ratio", DefaultSampleRatio)
	viperCfg.SetDefault("observability.prometheus", DefaultPrometheus)
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	_, levelErr := config.LogLevel()
	if levelErr != nil {
		return levelErr
	}

	switch strings.ToLower(config.Logging.Format) {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.Logging.Format)
	}

	ratio := config.Observability.SampleRatio
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, ratio)
	}

	engineErr := config.EnginePolicy().Validate()
	if engineErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEngine, engineErr)
	}

	qualityErr := config.QualityPolicy().Validate()
	if qualityErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQuality, qualityErr)
	}

	retryErr := config.RetryPolicy().Validate()
	if retryErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRetry, retryErr)
	}

	return nil
}

// LogLevel parses the configured level name (debug, info, warn, error).
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(c.Logging.Level))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return level, nil
}

// EnginePolicy converts the engine section.
func (c *Config) EnginePolicy() accumulate.Policy {
	e := c.Engine

	return accumulate.Policy{
		ReservoirCapacity:     e.ReservoirCapacity,
		DistanceUnitThreshold: e.DistanceUnitThreshold,
		DistanceUnitFactor:    e.DistanceUnitFactor,
		FahrenheitThreshold:   e.FahrenheitThreshold,
		HomeSitePatterns:      e.HomeSitePatterns,
		HomePriceThreshold:    e.HomePriceThreshold,
		BatteryCapacityKWh:    e.BatteryCapacityKWh,
	}
}

// QualityPolicy converts the quality section.
func (c *Config) QualityPolicy() quality.Policy {
	return quality.Policy{
		GapThreshold:         c.Quality.GapThreshold,
		MajorGapThreshold:    c.Quality.MajorGapThreshold,
		TargetRecordsPerHour: c.Quality.TargetRecordsPerHour,
	}
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxJitter:   c.Retry.MaxJitter,
	}
}

// ObservabilityConfig converts the logging and observability sections. An invalid
// log level falls back to info; LoadConfig already rejects one.
func (c *Config) ObservabilityConfig() observability.Config {
	cfg := observability.DefaultConfig()

	o := c.Observability
	if o.ServiceName != "" {
		cfg.ServiceName = o.ServiceName
	}

	cfg.ServiceVersion = version.Version
	cfg.Environment = o.Environment
	cfg.OTLPEndpoint = o.OTLPEndpoint
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(o.OTLPHeaders)
	cfg.OTLPInsecure = o.OTLPInsecure
	cfg.SampleRatio = o.SampleRatio
	cfg.Prometheus = o.Prometheus
	cfg.LogJSON = strings.EqualFold(c.Logging.Format, LogFormatJSON)
	cfg.ShutdownTimeoutSec = int(defaultShutdownTimeout / time.Second)

	level, err := c.LogLevel()
	if err == nil {
		cfg.LogLevel = level
	}

	return cfg
}
