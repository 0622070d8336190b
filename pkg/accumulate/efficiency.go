package accumulate

import (
	"math"
	"math/rand/v2"

	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

const (
	whPerKWh = 1000.0
	percent  = 100.0
)

// EfficiencyMetrics is the finalized efficiency category, including the
// energy-site view.
type EfficiencyMetrics struct {
	Segments             int          `json:"segments"                yaml:"segments"`
	SegmentDistanceKm    float64      `json:"segment_distance_km"     yaml:"segment_distance_km"`
	SegmentEnergyKWh     float64      `json:"segment_energy_kwh"      yaml:"segment_energy_kwh"`
	AvgWhPerKm           float64      `json:"avg_wh_per_km"           yaml:"avg_wh_per_km"`
	WhPerKm              Distribution `json:"wh_per_km"               yaml:"wh_per_km"`
	EstimatedFullRangeKm float64      `json:"estimated_full_range_km" yaml:"estimated_full_range_km"`
	Site                 SiteMetrics  `json:"site"                    yaml:"site"`
}

// SiteMetrics summarizes energy-site live status in watts.
type SiteMetrics struct {
	Samples            int64   `json:"samples"              yaml:"samples"`
	AvgSolarPowerW     float64 `json:"avg_solar_power_w"    yaml:"avg_solar_power_w"`
	PeakSolarPowerW    float64 `json:"peak_solar_power_w"   yaml:"peak_solar_power_w"`
	AvgLoadPowerW      float64 `json:"avg_load_power_w"     yaml:"avg_load_power_w"`
	AvgGridPowerW      float64 `json:"avg_grid_power_w"     yaml:"avg_grid_power_w"`
	AvgBatteryPowerW   float64 `json:"avg_battery_power_w"  yaml:"avg_battery_power_w"`
	AvgStorageLevel    float64 `json:"avg_storage_level"    yaml:"avg_storage_level"`
	AvgStoredKWh       float64 `json:"avg_stored_kwh"       yaml:"avg_stored_kwh"`
	SelfPoweredShare   float64 `json:"self_powered_share"   yaml:"self_powered_share"`
	GridExportSamples  int64   `json:"grid_export_samples"  yaml:"grid_export_samples"`
	SolarActiveSamples int64   `json:"solar_active_samples" yaml:"solar_active_samples"`
}

// snapshot is the last reading usable as a segment start.
type snapshot struct {
	odometer float64
	level    float64
}

// Efficiency derives consumption from consecutive readings and collects
// energy-site samples.
type Efficiency struct {
	policy Policy

	prev     *snapshot
	whPerKm  *sampled
	distance float64
	energy   float64
	fullKm   running

	solar, load, grid, battery, storage running
	stored                              running
	selfPowered                         running
	sites, exports, solarActive         int64
}

func newEfficiency(policy Policy, rng *rand.Rand) (*Efficiency, error) {
	whPerKm, err := newSampled(policy.ReservoirCapacity, rng)
	if err != nil {
		return nil, err
	}

	return &Efficiency{policy: policy, whPerKm: whPerKm}, nil
}

// Consume folds one vehicle reading. A segment is counted between two
// consecutive readings whose odometer increased by at most maxSegmentKm while
// the battery level dropped.
func (e *Efficiency) Consume(r Reading) {
	if level, ok := r.Level.Get(); ok && level > 0 {
		if rangeKm, ok := r.RangeKm.Get(); ok {
			e.fullKm.add(rangeKm / level * percent)
		}
	}

	odometer, odoOK := r.OdometerKm.Get()
	level, levelOK := r.Level.Get()

	if !odoOK || !levelOK {
		return
	}

	cur := &snapshot{odometer: odometer, level: level}
	defer func() { e.prev = cur }()

	if e.prev == nil {
		return
	}

	km := cur.odometer - e.prev.odometer
	drop := e.prev.level - cur.level

	if km <= 0 || km > maxSegmentKm || drop <= 0 {
		return
	}

	kWh := drop / percent * e.policy.BatteryCapacityKWh

	e.distance += km
	e.energy += kWh
	e.whPerKm.add(kWh * whPerKWh / km)
}

// ConsumeSite folds one energy-site section.
func (e *Efficiency) ConsumeSite(site telemetry.EnergySite) {
	admitted := false

	admit := func(v telemetry.Optional[float64], acc *running) (float64, bool) {
		w, ok := v.Get()
		if !ok || math.Abs(w) > maxSitePowerWatt {
			return 0, false
		}

		acc.add(w)
		admitted = true

		return w, true
	}

	solar, solarOK := admit(site.SolarPower, &e.solar)
	load, loadOK := admit(site.LoadPower, &e.load)
	grid, gridOK := admit(site.GridPower, &e.grid)
	admit(site.BatteryPower, &e.battery)

	level, levelOK := site.PercentageCharged.Get()

	if left, ok := site.EnergyLeft.Get(); ok && inRange(left, 0, maxSiteEnergyWh) {
		e.stored.add(left / whPerKWh)
		admitted = true

		// Sites that omit the percentage still report pack energy.
		if total := site.TotalPackEnergy.Or(0); !levelOK && total > 0 {
			level, levelOK = left/total*percent, true
		}
	}

	if levelOK && inRange(level, minLevel, maxLevel) {
		e.storage.add(level)
		admitted = true
	}

	if !admitted {
		return
	}

	e.sites++

	if solarOK && solar > 0 {
		e.solarActive++
	}

	if gridOK && grid < 0 {
		e.exports++
	}

	if loadOK && gridOK && load > 0 {
		share := (load - max(grid, 0)) / load
		e.selfPowered.add(min(max(share, 0), 1))
	}
}

// Finalize returns the efficiency metrics.
func (e *Efficiency) Finalize() EfficiencyMetrics {
	m := EfficiencyMetrics{
		Segments:             int(e.whPerKm.count),
		SegmentDistanceKm:    e.distance,
		SegmentEnergyKWh:     e.energy,
		WhPerKm:              e.whPerKm.distribution(),
		EstimatedFullRangeKm: e.fullKm.mean(),
		Site: SiteMetrics{
			Samples:            e.sites,
			AvgSolarPowerW:     e.solar.mean(),
			PeakSolarPowerW:    max(e.solar.max, 0),
			AvgLoadPowerW:      e.load.mean(),
			AvgGridPowerW:      e.grid.mean(),
			AvgBatteryPowerW:   e.battery.mean(),
			AvgStorageLevel:    e.storage.mean(),
			AvgStoredKWh:       e.stored.mean(),
			SelfPoweredShare:   e.selfPowered.mean(),
			GridExportSamples:  e.exports,
			SolarActiveSamples: e.solarActive,
		},
	}

	if e.distance > 0 {
		m.AvgWhPerKm = e.energy * whPerKWh / e.distance
	}

	return m
}
