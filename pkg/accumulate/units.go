package accumulate

// Conversion describes one firing of a unit heuristic.
type Conversion struct {
	Field     string
	Rule      string
	Raw       float64
	Converted float64
}

// Heuristic rule names.
const (
	RuleMilesToKm           = "miles_to_km"
	RuleFahrenheitToCelsius = "fahrenheit_to_celsius"
)

// Reporter receives every unit conversion so it can be audited.
type Reporter func(Conversion)

func (r Reporter) report(c Conversion) {
	if r != nil {
		r(c)
	}
}

// normalizeDistance converts a distance the magnitude heuristic takes for miles.
// A legitimately short distance in km is indistinguishable from a mile value.
func (p Policy) normalizeDistance(field string, v float64, rep Reporter) float64 {
	if v <= 0 || v >= p.DistanceUnitThreshold {
		return v
	}

	converted := v * p.DistanceUnitFactor
	rep.report(Conversion{Field: field, Rule: RuleMilesToKm, Raw: v, Converted: converted})

	return converted
}

// normalizeTemperature converts Fahrenheit-looking values, then range-checks.
func (p Policy) normalizeTemperature(field string, v float64, rep Reporter) (float64, bool) {
	if v > p.FahrenheitThreshold {
		converted := (v - 32) * 5 / 9
		rep.report(Conversion{Field: field, Rule: RuleFahrenheitToCelsius, Raw: v, Converted: converted})
		v = converted
	}

	return v, inRange(v, minTemperature, maxTemperature)
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
