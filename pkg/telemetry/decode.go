package telemetry

import "strings"

// Sub-state keys of a vehicle telemetry section.
const (
	keyChargeState  = "charge_state"
	keyClimateState = "climate_state"
	keyDriveState   = "drive_state"
	keyVehicleState = "vehicle_state"
)

// ChargeState holds the battery and charger fields of a vehicle snapshot.
type ChargeState struct {
	BatteryLevel       Optional[float64]
	UsableBatteryLevel Optional[float64]
	BatteryRange       Optional[float64]
	ChargeLimitSOC     Optional[float64]
	ChargingState      Optional[string]
	ChargerPower       Optional[float64]
	ChargeEnergyAdded  Optional[float64]
}

// ClimateState holds cabin and ambient climate fields.
type ClimateState struct {
	InsideTemp        Optional[float64]
	OutsideTemp       Optional[float64]
	DriverTempSetting Optional[float64]
	IsClimateOn       Optional[bool]
}

// DriveState holds motion and location fields.
type DriveState struct {
	Speed      Optional[float64]
	Heading    Optional[float64]
	Latitude   Optional[float64]
	Longitude  Optional[float64]
	Power      Optional[float64]
	ShiftState Optional[string]
}

// Tire positions in VehicleState.TirePressures.
const (
	TireFrontLeft = iota
	TireFrontRight
	TireRearLeft
	TireRearRight
	tireCount
)

// VehicleState holds odometer and tire fields.
type VehicleState struct {
	Odometer      Optional[float64]
	TirePressures [tireCount]Optional[float64]
}

// Vehicle is the typed view of a vehicle telemetry section.
type Vehicle struct {
	Charge  ChargeState
	Climate ClimateState
	Drive   DriveState
	State   VehicleState
}

// DecodeVehicle reads a vehicle telemetry section. Each field is looked up in
// its sub-state object first and on the section root second, so flat
// single-level snapshots decode too.
func DecodeVehicle(content Value) Vehicle {
	field := func(sub, key string) Value {
		nested := content.Path(sub, key)
		if nested.Exists() {
			return nested
		}

		return content.Get(key)
	}

	var veh Vehicle

	veh.Charge = ChargeState{
		BatteryLevel:       optFloat(field(keyChargeState, "battery_level")),
		UsableBatteryLevel: optFloat(field(keyChargeState, "usable_battery_level")),
		BatteryRange:       optFloat(field(keyChargeState, "battery_range")),
		ChargeLimitSOC:     optFloat(field(keyChargeState, "charge_limit_soc")),
		ChargingState:      optText(field(keyChargeState, "charging_state")),
		ChargerPower:       optFloat(field(keyChargeState, "charger_power")),
		ChargeEnergyAdded:  optFloat(field(keyChargeState, "charge_energy_added")),
	}

	veh.Climate = ClimateState{
		InsideTemp:        optFloat(field(keyClimateState, "inside_temp")),
		OutsideTemp:       optFloat(field(keyClimateState, "outside_temp")),
		DriverTempSetting: optFloat(field(keyClimateState, "driver_temp_setting")),
		IsClimateOn:       optBool(field(keyClimateState, "is_climate_on")),
	}

	veh.Drive = DriveState{
		Speed:      optFloat(field(keyDriveState, "speed")),
		Heading:    optFloat(field(keyDriveState, "heading")),
		Latitude:   optFloat(field(keyDriveState, "latitude")),
		Longitude:  optFloat(field(keyDriveState, "longitude")),
		Power:      optFloat(field(keyDriveState, "power")),
		ShiftState: optText(field(keyDriveState, "shift_state")),
	}

	veh.State.Odometer = optFloat(field(keyVehicleState, "odometer"))
	veh.State.TirePressures = [tireCount]Optional[float64]{
		optFloat(field(keyVehicleState, "tpms_pressure_fl")),
		optFloat(field(keyVehicleState, "tpms_pressure_fr")),
		optFloat(field(keyVehicleState, "tpms_pressure_rl")),
		optFloat(field(keyVehicleState, "tpms_pressure_rr")),
	}

	return veh
}

// EnergySite is the typed view of an energy-site live status section.
// Power values are in watts, energy values in watt-hours.
type EnergySite struct {
	SolarPower        Optional[float64]
	BatteryPower      Optional[float64]
	GridPower         Optional[float64]
	LoadPower         Optional[float64]
	PercentageCharged Optional[float64]
	EnergyLeft        Optional[float64]
	TotalPackEnergy   Optional[float64]
}

// DecodeEnergySite reads an energy-site section, accepting an optional
// "live_status" wrapper.
func DecodeEnergySite(content Value) EnergySite {
	if live := content.Get("live_status"); live.IsObject() {
		content = live
	}

	return EnergySite{
		SolarPower:        optFloat(content.Get("solar_power")),
		BatteryPower:      optFloat(content.Get("battery_power")),
		GridPower:         optFloat(content.Get("grid_power")),
		LoadPower:         optFloat(content.Get("load_power")),
		PercentageCharged: optFloat(content.Get("percentage_charged")),
		EnergyLeft:        optFloat(content.Get("energy_left")),
		TotalPackEnergy:   optFloat(content.Get("total_pack_energy")),
	}
}

// DecodeChargingSessions reads a charging-history section. The content may be
// an array of sessions, an object wrapping one under "sessions" or
// "charging_sessions", or a single session object. Entries that carry no
// recognizable session field are dropped.
func DecodeChargingSessions(content Value) []ChargingSession {
	var items []Value

	switch {
	case content.IsArray():
		items = content.Items()
	case content.First("sessions", "charging_sessions", "data").IsArray():
		items = content.First("sessions", "charging_sessions", "data").Items()
	case content.IsObject():
		items = []Value{content}
	}

	out := make([]ChargingSession, 0, len(items))

	for _, item := range items {
		session, ok := decodeSession(item)
		if ok {
			out = append(out, session)
		}
	}

	return out
}

func decodeSession(item Value) (ChargingSession, bool) {
	if !item.IsObject() {
		return ChargingSession{}, false
	}

	var cs ChargingSession

	cs.SessionID, _ = item.First("session_id", "sessionId", "id").Text()
	cs.Start, _ = item.First("start", "start_time", "chargeStartDateTime").Time()
	cs.End, _ = item.First("end", "end_time", "chargeStopDateTime").Time()
	cs.SiteName, _ = item.First("site_name", "siteLocationName", "location").Text()
	cs.Currency, _ = item.First("currency", "currencyCode").Text()

	cost, hasCost := item.First("total_cost", "totalCost", "cost").Float()
	energy, hasEnergy := item.First("energy_delivered", "energy_kwh", "kwh", "energy").Float()

	if !hasCost || !hasEnergy {
		feeCost, feeEnergy, feeCurrency, found := sumFees(item.Get("fees"))
		if found {
			if !hasCost {
				cost, hasCost = feeCost, true
			}

			if !hasEnergy && feeEnergy > 0 {
				energy, hasEnergy = feeEnergy, true
			}

			if cs.Currency == "" {
				cs.Currency = feeCurrency
			}
		}
	}

	if !hasCost && !hasEnergy && cs.SessionID == "" && cs.Start.IsZero() {
		return ChargingSession{}, false
	}

	cs.TotalCost = cost
	cs.EnergyDelivered = energy

	if energy > 0 {
		cs.CostPerUnit = cost / energy
		cs.HasCostPerUnit = true
	}

	return cs, true
}

// sumFees totals an itemized fee list. Energy comes from the charging fee's usage base.
func sumFees(fees Value) (cost, energy float64, currency string, found bool) {
	for _, fee := range fees.Items() {
		due, ok := fee.First("totalDue", "total_due").Float()
		if !ok {
			continue
		}

		found = true
		cost += due

		feeType, _ := fee.First("feeType", "fee_type").Text()
		if strings.EqualFold(feeType, "charging") {
			usage, _ := fee.First("usageBase", "usage_base").Float()
			energy += usage
		}

		if currency == "" {
			currency, _ = fee.First("currencyCode", "currency").Text()
		}
	}

	return cost, energy, currency, found
}
