package accumulate

import "math/rand/v2"

// BatteryMetrics is the finalized battery category.
type BatteryMetrics struct {
	Samples           int64        `json:"samples"             yaml:"samples"`
	AvgLevel          float64      `json:"avg_level"           yaml:"avg_level"`
	MinLevel          float64      `json:"min_level"           yaml:"min_level"`
	MaxLevel          float64      `json:"max_level"           yaml:"max_level"`
	LevelDistribution Distribution `json:"level_distribution"  yaml:"level_distribution"`
	AvgUsableLevel    float64      `json:"avg_usable_level"    yaml:"avg_usable_level"`
	AvgRangeKm        float64      `json:"avg_range_km"        yaml:"avg_range_km"`
	RangeDistribution Distribution `json:"range_distribution"  yaml:"range_distribution"`
	AvgChargeLimit    float64      `json:"avg_charge_limit"    yaml:"avg_charge_limit"`
}

// Battery accumulates state-of-charge readings.
type Battery struct {
	level       *sampled
	rangeKm     *sampled
	usable      running
	chargeLimit running
}

func newBattery(capacity int, rng *rand.Rand) (*Battery, error) {
	level, err := newSampled(capacity, rng)
	if err != nil {
		return nil, err
	}

	rangeKm, err := newSampled(capacity, rng)
	if err != nil {
		return nil, err
	}

	return &Battery{level: level, rangeKm: rangeKm}, nil
}

// Consume folds one reading into the running state.
func (b *Battery) Consume(r Reading) {
	if v, ok := r.Level.Get(); ok {
		b.level.add(v)
	}

	if v, ok := r.UsableLevel.Get(); ok {
		b.usable.add(v)
	}

	if v, ok := r.RangeKm.Get(); ok {
		b.rangeKm.add(v)
	}

	if v, ok := r.ChargeLimit.Get(); ok {
		b.chargeLimit.add(v)
	}
}

// Finalize returns the battery metrics.
func (b *Battery) Finalize() BatteryMetrics {
	return BatteryMetrics{
		Samples:           b.level.count,
		AvgLevel:          b.level.mean(),
		MinLevel:          b.level.min,
		MaxLevel:          b.level.max,
		LevelDistribution: b.level.distribution(),
		AvgUsableLevel:    b.usable.mean(),
		AvgRangeKm:        b.rangeKm.mean(),
		RangeDistribution: b.rangeKm.distribution(),
		AvgChargeLimit:    b.chargeLimit.mean(),
	}
}
