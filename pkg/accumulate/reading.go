package accumulate

import (
	"math"

	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

type optFloat = telemetry.Optional[float64]

// Reading is the validated, unit-normalized view of one vehicle section.
// Absent or out-of-range fields are left invalid.
type Reading struct {
	Level       optFloat
	UsableLevel optFloat
	RangeKm     optFloat
	ChargeLimit optFloat

	ChargingState telemetry.Optional[string]
	ChargerPower  optFloat
	EnergyAdded   optFloat

	Speed      optFloat
	Heading    optFloat
	Latitude   optFloat
	Longitude  optFloat
	DrivePower optFloat
	ShiftState telemetry.Optional[string]
	OdometerKm optFloat
	Tires      [4]optFloat

	InsideTemp  optFloat
	OutsideTemp optFloat
	TempSetting optFloat
	ClimateOn   telemetry.Optional[bool]
}

// normalizer validates raw vehicle fields against the policy.
type normalizer struct {
	policy   Policy
	reporter Reporter

	// rejected counts fields present in the input but dropped by range checks.
	rejected int64
}

func (n *normalizer) check(v optFloat, lo, hi float64) optFloat {
	if !v.Valid {
		return v
	}

	if !inRange(v.Value, lo, hi) {
		n.rejected++

		return optFloat{}
	}

	return v
}

func (n *normalizer) level(v optFloat) optFloat {
	if !v.Valid {
		return v
	}

	return n.check(telemetry.Some(math.Round(v.Value)), minLevel, maxLevel)
}

func (n *normalizer) distance(field string, v optFloat) optFloat {
	if !v.Valid {
		return v
	}

	if v.Value < 0 {
		n.rejected++

		return optFloat{}
	}

	return telemetry.Some(n.policy.normalizeDistance(field, v.Value, n.reporter))
}

func (n *normalizer) temperature(field string, v optFloat) optFloat {
	if !v.Valid {
		return v
	}

	celsius, ok := n.policy.normalizeTemperature(field, v.Value, n.reporter)
	if !ok {
		n.rejected++

		return optFloat{}
	}

	return telemetry.Some(celsius)
}

func (n *normalizer) reading(veh telemetry.Vehicle) Reading {
	r := Reading{
		Level:       n.level(veh.Charge.BatteryLevel),
		UsableLevel: n.level(veh.Charge.UsableBatteryLevel),
		RangeKm:     n.distance("battery_range", veh.Charge.BatteryRange),
		ChargeLimit: n.level(veh.Charge.ChargeLimitSOC),

		ChargingState: veh.Charge.ChargingState,
		ChargerPower:  n.check(veh.Charge.ChargerPower, 0, maxChargerPower),
		EnergyAdded:   n.check(veh.Charge.ChargeEnergyAdded, 0, math.MaxFloat64),

		Speed:      n.check(veh.Drive.Speed, minSpeed, maxSpeed),
		Heading:    n.heading(veh.Drive.Heading),
		Latitude:   n.check(veh.Drive.Latitude, -maxLatitude, maxLatitude),
		Longitude:  n.check(veh.Drive.Longitude, -maxLongitude, maxLongitude),
		DrivePower: n.check(veh.Drive.Power, minDrivePowerKW, maxDrivePowerKW),
		ShiftState: veh.Drive.ShiftState,
		OdometerKm: n.distance("odometer", veh.State.Odometer),

		InsideTemp:  n.temperature("inside_temp", veh.Climate.InsideTemp),
		OutsideTemp: n.temperature("outside_temp", veh.Climate.OutsideTemp),
		TempSetting: n.temperature("driver_temp_setting", veh.Climate.DriverTempSetting),
		ClimateOn:   veh.Climate.IsClimateOn,
	}

	for i, tire := range veh.State.TirePressures {
		r.Tires[i] = n.check(tire, minTirePressure, maxTirePressure)
	}

	return r
}

// heading admits [0, 360); 360 is folded onto 0.
func (n *normalizer) heading(v optFloat) optFloat {
	checked := n.check(v, minHeading, maxHeading)
	if checked.Valid && checked.Value == maxHeading {
		return telemetry.Some(0.0)
	}

	return checked
}
