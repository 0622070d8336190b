package accumulate

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

// chargingStateActive is the charge-state value of a live charging observation.
const chargingStateActive = "charging"

// ChargingMetrics is the finalized charging category.
type ChargingMetrics struct {
	ActiveSamples       int64         `json:"active_samples"        yaml:"active_samples"`
	AvgChargerPowerKW   float64       `json:"avg_charger_power_kw"  yaml:"avg_charger_power_kw"`
	MaxChargerPowerKW   float64       `json:"max_charger_power_kw"  yaml:"max_charger_power_kw"`
	MaxEnergyAddedKWh   float64       `json:"max_energy_added_kwh"  yaml:"max_energy_added_kwh"`
	Sessions            int           `json:"sessions"              yaml:"sessions"`
	DuplicateSessions   int           `json:"duplicate_sessions"    yaml:"duplicate_sessions"`
	TotalEnergyKWh      float64       `json:"total_energy_kwh"      yaml:"total_energy_kwh"`
	TotalCost           float64       `json:"total_cost"            yaml:"total_cost"`
	AvgCostPerKWh       float64       `json:"avg_cost_per_kwh"      yaml:"avg_cost_per_kwh"`
	CostPerKWh          Distribution  `json:"cost_per_kwh"          yaml:"cost_per_kwh"`
	TotalDuration       time.Duration `json:"total_duration"        yaml:"total_duration"`
	AvgSessionDuration  time.Duration `json:"avg_session_duration"  yaml:"avg_session_duration"`
	HomeSessions        int           `json:"home_sessions"         yaml:"home_sessions"`
	HomeEnergyKWh       float64       `json:"home_energy_kwh"       yaml:"home_energy_kwh"`
	HomeCost            float64       `json:"home_cost"             yaml:"home_cost"`
	HomeEnergyShare     float64       `json:"home_energy_share"     yaml:"home_energy_share"`
	Currency            string        `json:"currency"              yaml:"currency"`
	FirstSessionStart   time.Time     `json:"first_session_start"   yaml:"first_session_start"`
	LastSessionEnd      time.Time     `json:"last_session_end"      yaml:"last_session_end"`
	MixedCurrencies     bool          `json:"mixed_currencies"      yaml:"mixed_currencies"`
	SessionsWithoutCost int           `json:"sessions_without_cost" yaml:"sessions_without_cost"`
}

// Charging accumulates live charging observations and completed sessions.
type Charging struct {
	policy Policy

	power       running
	energyAdded running
	costPerKWh  *sampled

	// seen holds session IDs already counted in this run.
	seen map[string]struct{}

	sessions, duplicates, home, withoutCost int
	energy, cost, homeEnergy, homeCost     float64
	duration                               time.Duration
	durationSessions                       int
	currency                               string
	mixedCurrencies                        bool
	first, last                            time.Time
}

func newCharging(policy Policy, rng *rand.Rand) (*Charging, error) {
	costPerKWh, err := newSampled(policy.ReservoirCapacity, rng)
	if err != nil {
		return nil, err
	}

	return &Charging{
		policy:     policy,
		costPerKWh: costPerKWh,
		seen:       make(map[string]struct{}),
	}, nil
}

// Consume folds the live charging fields of one vehicle reading.
func (c *Charging) Consume(r Reading) {
	state, ok := r.ChargingState.Get()
	if !ok || !strings.EqualFold(state, chargingStateActive) {
		return
	}

	if v, ok := r.ChargerPower.Get(); ok {
		c.power.add(v)
	}

	if v, ok := r.EnergyAdded.Get(); ok {
		c.energyAdded.add(v)
	}
}

// ConsumeSession folds one completed session. A session whose ID was already
// seen in this run is counted as a duplicate and otherwise ignored.
func (c *Charging) ConsumeSession(cs telemetry.ChargingSession) {
	if cs.SessionID != "" {
		if _, dup := c.seen[cs.SessionID]; dup {
			c.duplicates++

			return
		}

		c.seen[cs.SessionID] = struct{}{}
	}

	c.sessions++
	c.energy += cs.EnergyDelivered
	c.cost += cs.TotalCost

	if cs.HasCostPerUnit {
		c.costPerKWh.add(cs.CostPerUnit)
	} else {
		c.withoutCost++
	}

	if d := cs.Duration(); d > 0 {
		c.duration += d
		c.durationSessions++
	}

	c.trackCurrency(cs.Currency)
	c.trackBounds(cs)

	if c.policy.IsHomeSession(cs) {
		c.home++
		c.homeEnergy += cs.EnergyDelivered
		c.homeCost += cs.TotalCost
	}
}

func (c *Charging) trackCurrency(currency string) {
	if currency == "" {
		return
	}

	switch {
	case c.currency == "":
		c.currency = currency
	case !strings.EqualFold(c.currency, currency):
		c.mixedCurrencies = true
	}
}

func (c *Charging) trackBounds(cs telemetry.ChargingSession) {
	if !cs.Start.IsZero() && (c.first.IsZero() || cs.Start.Before(c.first)) {
		c.first = cs.Start
	}

	if !cs.End.IsZero() && cs.End.After(c.last) {
		c.last = cs.End
	}
}

// Finalize returns the charging metrics.
func (c *Charging) Finalize() ChargingMetrics {
	m := ChargingMetrics{
		ActiveSamples:       c.power.count,
		AvgChargerPowerKW:   c.power.mean(),
		MaxChargerPowerKW:   c.power.max,
		MaxEnergyAddedKWh:   c.energyAdded.max,
		Sessions:            c.sessions,
		DuplicateSessions:   c.duplicates,
		TotalEnergyKWh:      c.energy,
		TotalCost:           c.cost,
		CostPerKWh:          c.costPerKWh.distribution(),
		TotalDuration:       c.duration,
		HomeSessions:        c.home,
		HomeEnergyKWh:       c.homeEnergy,
		HomeCost:            c.homeCost,
		Currency:            c.currency,
		FirstSessionStart:   c.first,
		LastSessionEnd:      c.last,
		MixedCurrencies:     c.mixedCurrencies,
		SessionsWithoutCost: c.withoutCost,
	}

	if c.energy > 0 {
		m.AvgCostPerKWh = c.cost / c.energy
		m.HomeEnergyShare = c.homeEnergy / c.energy
	}

	if c.durationSessions > 0 {
		m.AvgSessionDuration = c.duration / time.Duration(c.durationSessions)
	}

	return m
}
