package accumulate

import (
	"fmt"
	"math/rand/v2"

	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

// Metrics is the finalized output of a Set.
type Metrics struct {
	Battery    BatteryMetrics    `json:"battery"    yaml:"battery"`
	Charging   ChargingMetrics   `json:"charging"   yaml:"charging"`
	Driving    DrivingMetrics    `json:"driving"    yaml:"driving"`
	Climate    ClimateMetrics    `json:"climate"    yaml:"climate"`
	Efficiency EfficiencyMetrics `json:"efficiency" yaml:"efficiency"`
}

// Set bundles the five category accumulators of one aggregation run.
// It is not safe for concurrent use.
type Set struct {
	norm normalizer

	battery    *Battery
	charging   *Charging
	driving    *Driving
	climate    *Climate
	efficiency *Efficiency

	conversions int64
}

// NewSet validates the policy and creates fresh accumulators sharing rng.
// A nil rng is seeded randomly; reporter may be nil.
func NewSet(policy Policy, rng *rand.Rand, reporter Reporter) (*Set, error) {
	validateErr := policy.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	set := &Set{}

	set.norm = normalizer{
		policy: policy,
		reporter: func(c Conversion) {
			set.conversions++
			reporter.report(c)
		},
	}

	var err error

	if set.battery, err = newBattery(policy.ReservoirCapacity, rng); err != nil {
		return nil, fmt.Errorf("battery: %w", err)
	}

	if set.charging, err = newCharging(policy, rng); err != nil {
		return nil, fmt.Errorf("charging: %w", err)
	}

	if set.driving, err = newDriving(policy.ReservoirCapacity, rng); err != nil {
		return nil, fmt.Errorf("driving: %w", err)
	}

	if set.climate, err = newClimate(policy.ReservoirCapacity, rng); err != nil {
		return nil, fmt.Errorf("climate: %w", err)
	}

	if set.efficiency, err = newEfficiency(policy, rng); err != nil {
		return nil, fmt.Errorf("efficiency: %w", err)
	}

	return set, nil
}

// ConsumeVehicle normalizes one vehicle section and feeds every accumulator.
func (s *Set) ConsumeVehicle(veh telemetry.Vehicle) Reading {
	r := s.norm.reading(veh)

	s.battery.Consume(r)
	s.charging.Consume(r)
	s.driving.Consume(r)
	s.climate.Consume(r)
	s.efficiency.Consume(r)

	return r
}

// ConsumeSessions feeds completed charging sessions.
func (s *Set) ConsumeSessions(sessions []telemetry.ChargingSession) {
	for _, cs := range sessions {
		s.charging.ConsumeSession(cs)
	}
}

// ConsumeSite feeds one energy-site section.
func (s *Set) ConsumeSite(site telemetry.EnergySite) {
	s.efficiency.ConsumeSite(site)
}

// Rejected returns the number of field values dropped by range checks.
func (s *Set) Rejected() int64 {
	return s.norm.rejected
}

// Conversions returns the number of unit heuristic firings.
func (s *Set) Conversions() int64 {
	return s.conversions
}

// Finalize returns immutable metrics for every category.
func (s *Set) Finalize() Metrics {
	return Metrics{
		Battery:    s.battery.Finalize(),
		Charging:   s.charging.Finalize(),
		Driving:    s.driving.Finalize(),
		Climate:    s.climate.Finalize(),
		Efficiency: s.efficiency.Finalize(),
	}
}
