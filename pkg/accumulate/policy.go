// Package accumulate turns routed telemetry fields into per-category running
// aggregates (battery, charging, driving, climate, efficiency) and finalizes
// them into immutable metrics. Memory stays bounded: every list of observed
// values lives in a fixed-capacity reservoir.
package accumulate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/teledigest/pkg/reservoir"
	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

// ErrInvalidPolicy is returned when a Policy fails validation.
var ErrInvalidPolicy = errors.New("invalid accumulation policy")

// Policy defaults.
const (
	DefaultDistanceUnitThreshold = 1000.0
	DefaultDistanceUnitFactor    = 1.609344
	DefaultFahrenheitThreshold   = 50.0
	DefaultHomePriceThreshold    = 0.15
	DefaultBatteryCapacityKWh    = 75.0
)

// DefaultHomeSitePattern marks a charging site as home when its name contains it.
const DefaultHomeSitePattern = "home"

// Admissible ranges. Values outside are dropped, never clamped.
const (
	minLevel         = 0.0
	maxLevel         = 100.0
	minSpeed         = 0.0
	maxSpeed         = 300.0
	minTemperature   = -50.0
	maxTemperature   = 70.0
	minTirePressure  = 1.0
	maxTirePressure  = 5.0
	minHeading       = 0.0
	maxHeading       = 360.0
	maxChargerPower  = 350.0
	minDrivePowerKW  = -500.0
	maxDrivePowerKW  = 1000.0
	maxLatitude      = 90.0
	maxLongitude     = 180.0
	maxSegmentKm     = 1000.0
	maxSitePowerWatt = 1e6
	maxSiteEnergyWh  = 1e6
)

// Policy holds the tunable constants of the accumulators, including the unit
// heuristics and the home-charging rule.
type Policy struct {
	// ReservoirCapacity bounds every sampled value list.
	ReservoirCapacity int

	// DistanceUnitThreshold: distance samples in (0, threshold) are taken to be
	// miles and multiplied by DistanceUnitFactor.
	DistanceUnitThreshold float64
	DistanceUnitFactor    float64

	// FahrenheitThreshold: temperatures above it are taken to be Fahrenheit.
	FahrenheitThreshold float64

	// HomeSitePatterns are case-insensitive substrings of a home charging site name.
	HomeSitePatterns []string

	// HomePriceThreshold: sessions cheaper per kWh are attributed to home charging.
	HomePriceThreshold float64

	// BatteryCapacityKWh converts battery percentage into energy.
	BatteryCapacityKWh float64
}

// DefaultPolicy returns the reference constants.
func DefaultPolicy() Policy {
	return Policy{
		ReservoirCapacity:     reservoir.DefaultCapacity,
		DistanceUnitThreshold: DefaultDistanceUnitThreshold,
		DistanceUnitFactor:    DefaultDistanceUnitFactor,
		FahrenheitThreshold:   DefaultFahrenheitThreshold,
		HomeSitePatterns:      []string{DefaultHomeSitePattern},
		HomePriceThreshold:    DefaultHomePriceThreshold,
		BatteryCapacityKWh:    DefaultBatteryCapacityKWh,
	}
}

// Validate checks that every constant is usable.
func (p Policy) Validate() error {
	switch {
	case p.ReservoirCapacity <= 0:
		return fmt.Errorf("%w: reservoir capacity %d", ErrInvalidPolicy, p.ReservoirCapacity)
	case p.DistanceUnitThreshold < 0:
		return fmt.Errorf("%w: distance unit threshold %g", ErrInvalidPolicy, p.DistanceUnitThreshold)
	case p.DistanceUnitFactor <= 0:
		return fmt.Errorf("%w: distance unit factor %g", ErrInvalidPolicy, p.DistanceUnitFactor)
	case p.HomePriceThreshold < 0:
		return fmt.Errorf("%w: home price threshold %g", ErrInvalidPolicy, p.HomePriceThreshold)
	case p.BatteryCapacityKWh <= 0:
		return fmt.Errorf("%w: battery capacity %g", ErrInvalidPolicy, p.BatteryCapacityKWh)
	}

	return nil
}

// IsHomeSession applies the home-charging rule: the site name matches a home
// pattern, or the session has a cost per kWh below the price threshold.
func (p Policy) IsHomeSession(cs telemetry.ChargingSession) bool {
	site := strings.ToLower(cs.SiteName)

	for _, pattern := range p.HomeSitePatterns {
		if pattern != "" && strings.Contains(site, strings.ToLower(pattern)) {
			return true
		}
	}

	return cs.HasCostPerUnit && cs.CostPerUnit < p.HomePriceThreshold
}
