package accumulate

import (
	"maps"
	"math/rand/v2"
	"strings"
)

// movingSpeed is the lowest speed counted as the vehicle being in motion.
const movingSpeed = 1.0

// Tire position labels, in telemetry.Tire* order.
var tireLabels = [...]string{"front_left", "front_right", "rear_left", "rear_right"}

// BoundingBox is the geographic extent of observed positions.
type BoundingBox struct {
	MinLatitude  float64 `json:"min_latitude"  yaml:"min_latitude"`
	MaxLatitude  float64 `json:"max_latitude"  yaml:"max_latitude"`
	MinLongitude float64 `json:"min_longitude" yaml:"min_longitude"`
	MaxLongitude float64 `json:"max_longitude" yaml:"max_longitude"`
}

// TireMetrics summarizes one tire's pressure in bar.
type TireMetrics struct {
	Position string  `json:"position" yaml:"position"`
	Samples  int64   `json:"samples"  yaml:"samples"`
	Avg      float64 `json:"avg"      yaml:"avg"`
	Min      float64 `json:"min"      yaml:"min"`
	Max      float64 `json:"max"      yaml:"max"`
}

// DrivingMetrics is the finalized driving category.
type DrivingMetrics struct {
	SpeedSamples      int64            `json:"speed_samples"       yaml:"speed_samples"`
	MovingSamples     int64            `json:"moving_samples"      yaml:"moving_samples"`
	AvgSpeed          float64          `json:"avg_speed"           yaml:"avg_speed"`
	AvgMovingSpeed    float64          `json:"avg_moving_speed"    yaml:"avg_moving_speed"`
	MaxSpeed          float64          `json:"max_speed"           yaml:"max_speed"`
	SpeedDistribution Distribution     `json:"speed_distribution"  yaml:"speed_distribution"`
	MeanHeading       float64          `json:"mean_heading"        yaml:"mean_heading"`
	HeadingSamples    int64            `json:"heading_samples"     yaml:"heading_samples"`
	DistanceKm        float64          `json:"distance_km"         yaml:"distance_km"`
	OdometerStartKm   float64          `json:"odometer_start_km"   yaml:"odometer_start_km"`
	OdometerEndKm     float64          `json:"odometer_end_km"     yaml:"odometer_end_km"`
	ShiftStates       map[string]int64 `json:"shift_states"        yaml:"shift_states"`
	AvgDrivePowerKW   float64          `json:"avg_drive_power_kw"  yaml:"avg_drive_power_kw"`
	MaxDrivePowerKW   float64          `json:"max_drive_power_kw"  yaml:"max_drive_power_kw"`
	MaxRegenPowerKW   float64          `json:"max_regen_power_kw"  yaml:"max_regen_power_kw"`
	LocationSamples   int64            `json:"location_samples"    yaml:"location_samples"`
	Bounds            BoundingBox      `json:"bounds"              yaml:"bounds"`
	Tires             []TireMetrics    `json:"tires"               yaml:"tires"`
	TirePressureRange Distribution     `json:"tire_pressure_range" yaml:"tire_pressure_range"`
}

// Driving accumulates motion, odometer, location and tire readings.
type Driving struct {
	speed    *sampled
	moving   running
	heading  *sampled
	odometer running
	power    running
	tires    [len(tireLabels)]running
	pressure *sampled

	shifts    map[string]int64
	latitude  running
	longitude running
}

func newDriving(capacity int, rng *rand.Rand) (*Driving, error) {
	speed, err := newSampled(capacity, rng)
	if err != nil {
		return nil, err
	}

	heading, err := newSampled(capacity, rng)
	if err != nil {
		return nil, err
	}

	pressure, err := newSampled(capacity, rng)
	if err != nil {
		return nil, err
	}

	return &Driving{
		speed:    speed,
		heading:  heading,
		pressure: pressure,
		shifts:   make(map[string]int64),
	}, nil
}

// Consume folds one reading into the running state.
func (d *Driving) Consume(r Reading) {
	if v, ok := r.Speed.Get(); ok {
		d.speed.add(v)

		if v >= movingSpeed {
			d.moving.add(v)
		}
	}

	if v, ok := r.Heading.Get(); ok {
		d.heading.add(v)
	}

	if v, ok := r.OdometerKm.Get(); ok {
		d.odometer.add(v)
	}

	if v, ok := r.DrivePower.Get(); ok {
		d.power.add(v)
	}

	if shift, ok := r.ShiftState.Get(); ok && shift != "" {
		d.shifts[strings.ToUpper(shift)]++
	}

	lat, latOK := r.Latitude.Get()
	lon, lonOK := r.Longitude.Get()

	if latOK && lonOK {
		d.latitude.add(lat)
		d.longitude.add(lon)
	}

	for i, tire := range r.Tires {
		if v, ok := tire.Get(); ok {
			d.tires[i].add(v)
			d.pressure.add(v)
		}
	}
}

// Finalize returns the driving metrics. Distance is max(odometer) - min(odometer)
// over the window, so an odometer reset inflates it.
func (d *Driving) Finalize() DrivingMetrics {
	m := DrivingMetrics{
		SpeedSamples:      d.speed.count,
		MovingSamples:     d.moving.count,
		AvgSpeed:          d.speed.mean(),
		AvgMovingSpeed:    d.moving.mean(),
		MaxSpeed:          d.speed.max,
		SpeedDistribution: d.speed.distribution(),
		HeadingSamples:    d.heading.count,
		MeanHeading:       circularMean(d.heading.sample.Values()),
		OdometerStartKm:   d.odometer.min,
		OdometerEndKm:     d.odometer.max,
		DistanceKm:        d.odometer.max - d.odometer.min,
		ShiftStates:       maps.Clone(d.shifts),
		AvgDrivePowerKW:   d.power.mean(),
		LocationSamples:   d.latitude.count,
		Bounds: BoundingBox{
			MinLatitude:  d.latitude.min,
			MaxLatitude:  d.latitude.max,
			MinLongitude: d.longitude.min,
			MaxLongitude: d.longitude.max,
		},
		TirePressureRange: d.pressure.distribution(),
	}

	if d.power.count > 0 {
		m.MaxDrivePowerKW = max(d.power.max, 0)
		m.MaxRegenPowerKW = max(-d.power.min, 0)
	}

	for i, tire := range d.tires {
		if tire.count == 0 {
			continue
		}

		m.Tires = append(m.Tires, TireMetrics{
			Position: tireLabels[i],
			Samples:  tire.count,
			Avg:      tire.mean(),
			Min:      tire.min,
			Max:      tire.max,
		})
	}

	return m
}
