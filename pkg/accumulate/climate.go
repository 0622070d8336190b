package accumulate

import "math/rand/v2"

// ClimateMetrics is the finalized climate category. Temperatures are Celsius.
type ClimateMetrics struct {
	InsideSamples       int64        `json:"inside_samples"        yaml:"inside_samples"`
	AvgInsideTemp       float64      `json:"avg_inside_temp"       yaml:"avg_inside_temp"`
	InsideDistribution  Distribution `json:"inside_distribution"   yaml:"inside_distribution"`
	OutsideSamples      int64        `json:"outside_samples"       yaml:"outside_samples"`
	AvgOutsideTemp      float64      `json:"avg_outside_temp"      yaml:"avg_outside_temp"`
	MinOutsideTemp      float64      `json:"min_outside_temp"      yaml:"min_outside_temp"`
	MaxOutsideTemp      float64      `json:"max_outside_temp"      yaml:"max_outside_temp"`
	OutsideDistribution Distribution `json:"outside_distribution"  yaml:"outside_distribution"`
	AvgSetPoint         float64      `json:"avg_set_point"         yaml:"avg_set_point"`
	ClimateOnRatio      float64      `json:"climate_on_ratio"      yaml:"climate_on_ratio"`
}

// Climate accumulates cabin and ambient temperatures.
type Climate struct {
	inside   *sampled
	outside  *sampled
	setPoint running

	observed, on int64
}

func newClimate(capacity int, rng *rand.Rand) (*Climate, error) {
	inside, err := newSampled(capacity, rng)
	if err != nil {
		return nil, err
	}

	outside, err := newSampled(capacity, rng)
	if err != nil {
		return nil, err
	}

	return &Climate{inside: inside, outside: outside}, nil
}

// Consume folds one reading into the running state.
func (c *Climate) Consume(r Reading) {
	if v, ok := r.InsideTemp.Get(); ok {
		c.inside.add(v)
	}

	if v, ok := r.OutsideTemp.Get(); ok {
		c.outside.add(v)
	}

	if v, ok := r.TempSetting.Get(); ok {
		c.setPoint.add(v)
	}

	if on, ok := r.ClimateOn.Get(); ok {
		c.observed++

		if on {
			c.on++
		}
	}
}

// Finalize returns the climate metrics.
func (c *Climate) Finalize() ClimateMetrics {
	m := ClimateMetrics{
		InsideSamples:       c.inside.count,
		AvgInsideTemp:       c.inside.mean(),
		InsideDistribution:  c.inside.distribution(),
		OutsideSamples:      c.outside.count,
		AvgOutsideTemp:      c.outside.mean(),
		MinOutsideTemp:      c.outside.min,
		MaxOutsideTemp:      c.outside.max,
		OutsideDistribution: c.outside.distribution(),
		AvgSetPoint:         c.setPoint.mean(),
	}

	if c.observed > 0 {
		m.ClimateOnRatio = float64(c.on) / float64(c.observed)
	}

	return m
}
