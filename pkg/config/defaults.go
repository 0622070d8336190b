package config

import (
	"time"

	"github.com/Sumatoshi-tech/teledigest/pkg/accumulate"
	"github.com/Sumatoshi-tech/teledigest/pkg/quality"
	"github.com/Sumatoshi-tech/teledigest/pkg/reservoir"
	"github.com/Sumatoshi-tech/teledigest/pkg/retry"
)

// Engine defaults.
const (
	DefaultReservoirCapacity     = reservoir.DefaultCapacity
	DefaultDistanceUnitThreshold = accumulate.DefaultDistanceUnitThreshold
	DefaultDistanceUnitFactor    = accumulate.DefaultDistanceUnitFactor
	DefaultFahrenheitThreshold   = accumulate.DefaultFahrenheitThreshold
	DefaultHomePriceThreshold    = accumulate.DefaultHomePriceThreshold
	DefaultBatteryCapacityKWh    = accumulate.DefaultBatteryCapacityKWh
	DefaultSeed                  = uint64(0)
)

// Quality defaults.
const (
	DefaultGapThreshold         = quality.DefaultGapThreshold
	DefaultMajorGapThreshold    = quality.DefaultMajorGapThreshold
	DefaultTargetRecordsPerHour = quality.DefaultTargetRecordsPerHour
)

// Retry defaults.
const (
	DefaultMaxAttempts = retry.DefaultMaxAttempts
	DefaultBaseDelay   = retry.DefaultBaseDelay
	DefaultMaxJitter   = retry.DefaultMaxJitter
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = LogFormatText
)

// Observability defaults.
const (
	DefaultServiceName = "teledigest"
	DefaultSampleRatio = 0.0
	DefaultPrometheus  = false
)

// defaultShutdownTimeout bounds the flush of telemetry exporters on exit.
const defaultShutdownTimeout = 5 * time.Second

// DefaultHomeSitePatterns returns the default home-charging site patterns.
func DefaultHomeSitePatterns() []string {
	return []string{accumulate.DefaultHomeSitePattern}
}
