package accumulate

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

const tolerance = 1e-9

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func vehicle(t *testing.T, payload string) telemetry.Vehicle {
	t.Helper()

	doc, err := telemetry.Decode(payload)
	require.NoError(t, err)

	return telemetry.DecodeVehicle(doc)
}

func newTestSet(t *testing.T, reporter Reporter) *Set {
	t.Helper()

	set, err := NewSet(DefaultPolicy(), seeded(7), reporter)
	require.NoError(t, err)

	return set
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Policy)
		valid  bool
	}{
		{name: "defaults", mutate: func(*Policy) {}, valid: true},
		{name: "zero capacity", mutate: func(p *Policy) { p.ReservoirCapacity = 0 }},
		{name: "negative threshold", mutate: func(p *Policy) { p.DistanceUnitThreshold = -1 }},
		{name: "zero factor", mutate: func(p *Policy) { p.DistanceUnitFactor = 0 }},
		{name: "negative price", mutate: func(p *Policy) { p.HomePriceThreshold = -0.1 }},
		{name: "zero battery", mutate: func(p *Policy) { p.BatteryCapacityKWh = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := DefaultPolicy()
			tt.mutate(&p)

			err := p.Validate()
			if tt.valid {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestPolicy_IsHomeSession(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()

	assert.True(t, p.IsHomeSession(telemetry.ChargingSession{SiteName: "My HOME wallbox"}))
	assert.True(t, p.IsHomeSession(telemetry.ChargingSession{CostPerUnit: 0.1, HasCostPerUnit: true}))
	assert.False(t, p.IsHomeSession(telemetry.ChargingSession{CostPerUnit: 0.1}))
	assert.False(t, p.IsHomeSession(telemetry.ChargingSession{SiteName: "Supercharger", CostPerUnit: 0.4, HasCostPerUnit: true}))
}

func TestNormalizeDistance(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()

	var fired []Conversion

	rep := Reporter(func(c Conversion) { fired = append(fired, c) })

	assert.InDelta(t, 160.9344, p.normalizeDistance("odometer", 100, rep), tolerance)
	assert.InDelta(t, 1500.0, p.normalizeDistance("odometer", 1500, rep), tolerance)
	assert.InDelta(t, 0.0, p.normalizeDistance("odometer", 0, rep), tolerance)

	require.Len(t, fired, 1)
	assert.Equal(t, "odometer", fired[0].Field)
	assert.Equal(t, RuleMilesToKm, fired[0].Rule)
	assert.InDelta(t, 100.0, fired[0].Raw, tolerance)
	assert.InDelta(t, 160.9344, fired[0].Converted, tolerance)
}

func TestNormalizeTemperature(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()

	tests := []struct {
		raw  float64
		want float64
		ok   bool
	}{
		{raw: 20, want: 20, ok: true},
		{raw: 50, want: 50, ok: true},
		{raw: 68, want: 20, ok: true},
		{raw: -60, want: -60, ok: false},
		{raw: 200, want: (200 - 32) * 5.0 / 9, ok: false},
	}

	for _, tt := range tests {
		got, ok := p.normalizeTemperature("inside_temp", tt.raw, nil)
		assert.InDelta(t, tt.want, got, tolerance, "raw %g", tt.raw)
		assert.Equal(t, tt.ok, ok, "raw %g", tt.raw)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Distribution{}, Summarize(nil))

	d := Summarize([]float64{5, 1, 4, 2, 3})
	assert.Equal(t, 5, d.Count)
	assert.InDelta(t, 3.0, d.Mean, tolerance)
	assert.InDelta(t, 1.0, d.Min, tolerance)
	assert.InDelta(t, 3.0, d.Median, tolerance)
	assert.InDelta(t, 5.0, d.P95, tolerance)
	assert.InDelta(t, 5.0, d.Max, tolerance)
	assert.InDelta(t, 1.5811388300841898, d.StdDev, 1e-12)

	single := Summarize([]float64{42})
	assert.Zero(t, single.StdDev)
	assert.InDelta(t, 42.0, single.Median, tolerance)
}

func TestCircularMean(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 90.0, circularMean([]float64{80, 100}), 1e-9)
	assert.InDelta(t, 270.0, circularMean([]float64{260, 280}), 1e-9)

	wrap := circularMean([]float64{350, 10})
	assert.True(t, wrap < 1e-6 || wrap > 360-1e-6, "got %g", wrap)
}

func TestSet_BatteryLevelAndRejections(t *testing.T) {
	t.Parallel()

	set := newTestSet(t, nil)

	set.ConsumeVehicle(vehicle(t, `{"battery_level":55.4,"usable_battery_level":54,"charge_limit_soc":90}`))
	set.ConsumeVehicle(vehicle(t, `{"charge_state":{"battery_level":55},"drive_state":{"speed":400}}`))
	set.ConsumeVehicle(vehicle(t, `{"battery_level":140,"tpms_pressure_fl":9}`))

	m := set.Finalize()

	assert.Equal(t, int64(2), m.Battery.Samples)
	assert.InDelta(t, 55.0, m.Battery.AvgLevel, tolerance)
	assert.InDelta(t, 55.0, m.Battery.MinLevel, tolerance)
	assert.InDelta(t, 54.0, m.Battery.AvgUsableLevel, tolerance)
	assert.InDelta(t, 90.0, m.Battery.AvgChargeLimit, tolerance)
	assert.Equal(t, 2, m.Battery.LevelDistribution.Count)
	assert.Zero(t, m.Driving.SpeedSamples)
	assert.Empty(t, m.Driving.Tires)
	assert.Equal(t, int64(3), set.Rejected())
}

func TestSet_OdometerDistanceUsesMaxMinusMin(t *testing.T) {
	t.Parallel()

	var fired []Conversion

	set := newTestSet(t, func(c Conversion) { fired = append(fired, c) })

	for _, odo := range []string{"12010", "12000", "12042", "12030"} {
		set.ConsumeVehicle(vehicle(t, `{"odometer":`+odo+`}`))
	}

	m := set.Finalize()

	assert.InDelta(t, 42.0, m.Driving.DistanceKm, tolerance)
	assert.InDelta(t, 12000.0, m.Driving.OdometerStartKm, tolerance)
	assert.Empty(t, fired)
}

func TestSet_DistanceHeuristicConvertsAndReports(t *testing.T) {
	t.Parallel()

	var fired []Conversion

	set := newTestSet(t, func(c Conversion) { fired = append(fired, c) })

	set.ConsumeVehicle(vehicle(t, `{"odometer":100}`))
	set.ConsumeVehicle(vehicle(t, `{"odometer":110}`))

	m := set.Finalize()

	assert.InDelta(t, 10*DefaultDistanceUnitFactor, m.Driving.DistanceKm, 1e-9)
	assert.Len(t, fired, 2)
	assert.Equal(t, int64(2), set.Conversions())
}

func TestSet_Driving(t *testing.T) {
	t.Parallel()

	set := newTestSet(t, nil)

	set.ConsumeVehicle(vehicle(t, `{"drive_state":{"speed":0,"heading":360,"shift_state":"P","latitude":52.5,"longitude":13.4}}`))
	set.ConsumeVehicle(vehicle(t, `{"drive_state":{"speed":60,"heading":0,"shift_state":"D","power":120,"latitude":52.4,"longitude":13.5}}`))
	set.ConsumeVehicle(vehicle(t, `{"drive_state":{"speed":90,"shift_state":"d","power":-60,"latitude":95}}`))
	set.ConsumeVehicle(vehicle(t, `{"vehicle_state":{"tpms_pressure_fl":2.9,"tpms_pressure_rr":3.1},"tpms_pressure_fl":2.0}`))

	m := set.Finalize()

	assert.Equal(t, int64(3), m.Driving.SpeedSamples)
	assert.Equal(t, int64(2), m.Driving.MovingSamples)
	assert.InDelta(t, 50.0, m.Driving.AvgSpeed, tolerance)
	assert.InDelta(t, 75.0, m.Driving.AvgMovingSpeed, tolerance)
	assert.InDelta(t, 90.0, m.Driving.MaxSpeed, tolerance)
	assert.InDelta(t, 0.0, m.Driving.MeanHeading, 1e-9)
	assert.Equal(t, map[string]int64{"P": 1, "D": 2}, m.Driving.ShiftStates)
	assert.InDelta(t, 120.0, m.Driving.MaxDrivePowerKW, tolerance)
	assert.InDelta(t, 60.0, m.Driving.MaxRegenPowerKW, tolerance)

	assert.Equal(t, int64(2), m.Driving.LocationSamples)
	assert.Equal(t, BoundingBox{MinLatitude: 52.4, MaxLatitude: 52.5, MinLongitude: 13.4, MaxLongitude: 13.5}, m.Driving.Bounds)

	require.Len(t, m.Driving.Tires, 2)
	assert.Equal(t, "front_left", m.Driving.Tires[0].Position)
	assert.InDelta(t, 2.9, m.Driving.Tires[0].Avg, tolerance)
	assert.Equal(t, "rear_right", m.Driving.Tires[1].Position)
	assert.Equal(t, 2, m.Driving.TirePressureRange.Count)
	assert.Equal(t, int64(1), set.Rejected())
}

func TestSet_Climate(t *testing.T) {
	t.Parallel()

	set := newTestSet(t, nil)

	set.ConsumeVehicle(vehicle(t, `{"inside_temp":68,"outside_temp":10,"driver_temp_setting":21,"is_climate_on":true}`))
	set.ConsumeVehicle(vehicle(t, `{"inside_temp":22,"outside_temp":160,"is_climate_on":false}`))

	m := set.Finalize()

	assert.Equal(t, int64(2), m.Climate.InsideSamples)
	assert.InDelta(t, 21.0, m.Climate.AvgInsideTemp, tolerance)
	assert.Equal(t, int64(1), m.Climate.OutsideSamples)
	assert.InDelta(t, 10.0, m.Climate.AvgOutsideTemp, tolerance)
	assert.InDelta(t, 21.0, m.Climate.AvgSetPoint, tolerance)
	assert.InDelta(t, 0.5, m.Climate.ClimateOnRatio, tolerance)
	assert.Equal(t, int64(2), set.Conversions())
	assert.Equal(t, int64(1), set.Rejected())
}

func TestSet_LiveCharging(t *testing.T) {
	t.Parallel()

	set := newTestSet(t, nil)

	set.ConsumeVehicle(vehicle(t, `{"charging_state":"Charging","charger_power":11,"charge_energy_added":4.5}`))
	set.ConsumeVehicle(vehicle(t, `{"charging_state":"Charging","charger_power":7,"charge_energy_added":9}`))
	set.ConsumeVehicle(vehicle(t, `{"charging_state":"Disconnected","charger_power":50}`))

	m := set.Finalize()

	assert.Equal(t, int64(2), m.Charging.ActiveSamples)
	assert.InDelta(t, 9.0, m.Charging.AvgChargerPowerKW, tolerance)
	assert.InDelta(t, 11.0, m.Charging.MaxChargerPowerKW, tolerance)
	assert.InDelta(t, 9.0, m.Charging.MaxEnergyAddedKWh, tolerance)
}

func TestSet_SessionsDeduplicateAndAttributeHome(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	home := telemetry.ChargingSession{
		SessionID: "a", SiteName: "Home Garage", Start: start, End: start.Add(2 * time.Hour),
		TotalCost: 3, EnergyDelivered: 10, CostPerUnit: 0.3, HasCostPerUnit: true, Currency: "EUR",
	}
	public := telemetry.ChargingSession{
		SessionID: "b", SiteName: "Supercharger Berlin", Start: start.Add(24 * time.Hour), End: start.Add(25 * time.Hour),
		TotalCost: 8, EnergyDelivered: 20, CostPerUnit: 0.4, HasCostPerUnit: true, Currency: "EUR",
	}
	cheap := telemetry.ChargingSession{
		SiteName: "Office", TotalCost: 1, EnergyDelivered: 10, CostPerUnit: 0.1, HasCostPerUnit: true, Currency: "eur",
	}
	free := telemetry.ChargingSession{SessionID: "c", SiteName: "Hotel"}

	set := newTestSet(t, nil)
	set.ConsumeSessions([]telemetry.ChargingSession{home, public, cheap})
	set.ConsumeSessions([]telemetry.ChargingSession{home, free})

	m := set.Finalize().Charging

	assert.Equal(t, 4, m.Sessions)
	assert.Equal(t, 1, m.DuplicateSessions)
	assert.Equal(t, 1, m.SessionsWithoutCost)
	assert.InDelta(t, 40.0, m.TotalEnergyKWh, tolerance)
	assert.InDelta(t, 12.0, m.TotalCost, tolerance)
	assert.InDelta(t, 0.3, m.AvgCostPerKWh, tolerance)
	assert.Equal(t, 3, m.CostPerKWh.Count)
	assert.Equal(t, 2, m.HomeSessions)
	assert.InDelta(t, 20.0, m.HomeEnergyKWh, tolerance)
	assert.InDelta(t, 4.0, m.HomeCost, tolerance)
	assert.InDelta(t, 0.5, m.HomeEnergyShare, tolerance)
	assert.Equal(t, 3*time.Hour, m.TotalDuration)
	assert.Equal(t, 90*time.Minute, m.AvgSessionDuration)
	assert.Equal(t, "EUR", m.Currency)
	assert.False(t, m.MixedCurrencies)
	assert.Equal(t, start, m.FirstSessionStart)
	assert.Equal(t, start.Add(25*time.Hour), m.LastSessionEnd)
}

func TestSet_EfficiencySegments(t *testing.T) {
	t.Parallel()

	set := newTestSet(t, nil)

	set.ConsumeVehicle(vehicle(t, `{"odometer":12000,"battery_level":80}`))
	set.ConsumeVehicle(vehicle(t, `{"odometer":12010,"battery_level":78}`))
	// Charging stop: level rises, no segment.
	set.ConsumeVehicle(vehicle(t, `{"odometer":12010,"battery_level":90}`))
	set.ConsumeVehicle(vehicle(t, `{"odometer":12030,"battery_level":86}`))
	// Implausible jump is ignored.
	set.ConsumeVehicle(vehicle(t, `{"odometer":15030,"battery_level":50}`))

	m := set.Finalize().Efficiency

	assert.Equal(t, 2, m.Segments)
	assert.InDelta(t, 30.0, m.SegmentDistanceKm, tolerance)
	assert.InDelta(t, 4.5, m.SegmentEnergyKWh, tolerance)
	assert.InDelta(t, 150.0, m.AvgWhPerKm, tolerance)
	assert.InDelta(t, 150.0, m.WhPerKm.Mean, tolerance)
}

func TestSet_EstimatedFullRange(t *testing.T) {
	t.Parallel()

	set := newTestSet(t, nil)
	set.ConsumeVehicle(vehicle(t, `{"battery_level":50,"battery_range":200}`))

	m := set.Finalize()

	assert.InDelta(t, 200*DefaultDistanceUnitFactor, m.Battery.AvgRangeKm, 1e-9)
	assert.InDelta(t, 400*DefaultDistanceUnitFactor, m.Efficiency.EstimatedFullRangeKm, 1e-9)
}

func TestSet_EnergySite(t *testing.T) {
	t.Parallel()

	set := newTestSet(t, nil)

	set.ConsumeSite(telemetry.EnergySite{
		SolarPower:        telemetry.Some(3000.0),
		LoadPower:         telemetry.Some(2000.0),
		GridPower:         telemetry.Some(-1000.0),
		BatteryPower:      telemetry.Some(0.0),
		PercentageCharged: telemetry.Some(80.0),
	})
	set.ConsumeSite(telemetry.EnergySite{
		SolarPower: telemetry.Some(0.0),
		LoadPower:  telemetry.Some(1000.0),
		GridPower:  telemetry.Some(600.0),
	})
	set.ConsumeSite(telemetry.EnergySite{SolarPower: telemetry.Some(5e6)})

	m := set.Finalize().Efficiency.Site

	assert.Equal(t, int64(2), m.Samples)
	assert.InDelta(t, 1500.0, m.AvgSolarPowerW, tolerance)
	assert.InDelta(t, 3000.0, m.PeakSolarPowerW, tolerance)
	assert.InDelta(t, 1500.0, m.AvgLoadPowerW, tolerance)
	assert.InDelta(t, -200.0, m.AvgGridPowerW, tolerance)
	assert.InDelta(t, 80.0, m.AvgStorageLevel, tolerance)
	assert.InDelta(t, 0.7, m.SelfPoweredShare, tolerance)
	assert.Equal(t, int64(1), m.GridExportSamples)
	assert.Equal(t, int64(1), m.SolarActiveSamples)
}

func TestSet_EnergySiteStorageFromPackEnergy(t *testing.T) {
	t.Parallel()

	set := newTestSet(t, nil)

	set.ConsumeSite(telemetry.EnergySite{
		EnergyLeft:      telemetry.Some(6750.0),
		TotalPackEnergy: telemetry.Some(13500.0),
	})
	set.ConsumeSite(telemetry.EnergySite{
		PercentageCharged: telemetry.Some(70.0),
		EnergyLeft:        telemetry.Some(9450.0),
		TotalPackEnergy:   telemetry.Some(13500.0),
	})
	set.ConsumeSite(telemetry.EnergySite{EnergyLeft: telemetry.Some(1000.0)})
	set.ConsumeSite(telemetry.EnergySite{EnergyLeft: telemetry.Some(-5.0)})

	m := set.Finalize().Efficiency.Site

	assert.Equal(t, int64(3), m.Samples)
	assert.InDelta(t, 60.0, m.AvgStorageLevel, tolerance)
	assert.InDelta(t, (6.75+9.45+1.0)/3, m.AvgStoredKWh, tolerance)
}

func TestSet_MemoryStaysBounded(t *testing.T) {
	t.Parallel()

	set := newTestSet(t, nil)

	for i := range 10_000 {
		set.ConsumeVehicle(telemetry.Vehicle{
			Charge: telemetry.ChargeState{BatteryLevel: telemetry.Some(float64(i % 101))},
			Drive:  telemetry.DriveState{Speed: telemetry.Some(float64(i % 200))},
		})
	}

	m := set.Finalize()

	assert.Equal(t, int64(10_000), m.Battery.Samples)
	assert.Equal(t, DefaultPolicy().ReservoirCapacity, m.Battery.LevelDistribution.Count)
	assert.Equal(t, DefaultPolicy().ReservoirCapacity, m.Driving.SpeedDistribution.Count)
}

func TestNewSet_RejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.ReservoirCapacity = -5

	set, err := NewSet(p, nil, nil)
	require.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Nil(t, set)
}
