package accumulate

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Sumatoshi-tech/teledigest/pkg/reservoir"
)

// Percentiles reported by Distribution.
const (
	percentileMedian = 0.5
	percentileP95    = 0.95
)

// Distribution summarizes a reservoir sample. StdDev is the sample standard deviation.
type Distribution struct {
	Count  int     `json:"count"   yaml:"count"`
	Mean   float64 `json:"mean"    yaml:"mean"`
	StdDev float64 `json:"std_dev" yaml:"std_dev"`
	Min    float64 `json:"min"     yaml:"min"`
	Median float64 `json:"median"  yaml:"median"`
	P95    float64 `json:"p95"     yaml:"p95"`
	Max    float64 `json:"max"     yaml:"max"`
}

// Summarize computes a Distribution. An empty sample yields the zero value.
func Summarize(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	dist := Distribution{
		Count:  len(sorted),
		Mean:   stat.Mean(sorted, nil),
		Min:    floats.Min(sorted),
		Median: stat.Quantile(percentileMedian, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(percentileP95, stat.Empirical, sorted, nil),
		Max:    floats.Max(sorted),
	}

	if len(sorted) > 1 {
		dist.StdDev = stat.StdDev(sorted, nil)
	}

	return dist
}

// running tracks an exact sum, count, min and max.
type running struct {
	sum   float64
	count int64
	min   float64
	max   float64
}

func (r *running) add(v float64) {
	if r.count == 0 || v < r.min {
		r.min = v
	}

	if r.count == 0 || v > r.max {
		r.max = v
	}

	r.sum += v
	r.count++
}

func (r *running) mean() float64 {
	if r.count == 0 {
		return 0
	}

	return r.sum / float64(r.count)
}

// sampled pairs exact running stats with a bounded reservoir.
type sampled struct {
	running

	sample *reservoir.Reservoir[float64]
}

func newSampled(capacity int, rng *rand.Rand) (*sampled, error) {
	res, err := reservoir.New[float64](capacity, rng)
	if err != nil {
		return nil, err
	}

	return &sampled{sample: res}, nil
}

func (s *sampled) add(v float64) {
	s.running.add(v)
	s.sample.Add(v)
}

func (s *sampled) distribution() Distribution {
	return Summarize(s.sample.Values())
}

// circularMean returns the mean direction of angles in degrees, in [0, 360).
func circularMean(degrees []float64) float64 {
	if len(degrees) == 0 {
		return 0
	}

	var sinSum, cosSum float64

	for _, d := range degrees {
		rad := d * math.Pi / 180
		sinSum += math.Sin(rad)
		cosSum += math.Cos(rad)
	}

	mean := math.Atan2(sinSum, cosSum) * 180 / math.Pi
	if mean < 0 {
		mean += 360
	}

	return mean
}
