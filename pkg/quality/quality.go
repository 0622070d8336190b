// Package quality scores a record stream by its timestamps alone: gaps,
// uptime, density, stability and the maturity of the observation period.
package quality

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidPolicy is returned when a Policy fails validation.
var ErrInvalidPolicy = errors.New("invalid quality policy")

// Policy defaults.
const (
	DefaultGapThreshold         = 30 * time.Minute
	DefaultMajorGapThreshold    = 2 * time.Hour
	DefaultTargetRecordsPerHour = 4.0
)

// Score weights. They sum to 100.
const (
	uptimeWeight    = 0.4
	densityWeight   = 30.0
	stabilityWeight = 20.0
	majorGapPenalty = 2.0
)

// Maturity stages.
const (
	maturityFull    = 10.0
	maturityPartial = 5.0
	maturityMinimal = 2.0

	day = 24 * time.Hour
)

// Label thresholds.
const (
	thresholdExcellent  = 90.0
	thresholdGreat      = 80.0
	thresholdGood       = 70.0
	thresholdFair       = 60.0
	thresholdAcceptable = 50.0
)

// Labels.
const (
	LabelExcellent        = "Excellent"
	LabelGreat            = "Great"
	LabelGood             = "Good"
	LabelFair             = "Fair"
	LabelAcceptable       = "Acceptable"
	LabelNeedsImprovement = "Needs Improvement"
)

// Policy holds gap thresholds and the density target.
type Policy struct {
	GapThreshold         time.Duration
	MajorGapThreshold    time.Duration
	TargetRecordsPerHour float64
}

// DefaultPolicy returns the reference thresholds.
func DefaultPolicy() Policy {
	return Policy{
		GapThreshold:         DefaultGapThreshold,
		MajorGapThreshold:    DefaultMajorGapThreshold,
		TargetRecordsPerHour: DefaultTargetRecordsPerHour,
	}
}

// Validate checks the thresholds.
func (p Policy) Validate() error {
	switch {
	case p.GapThreshold <= 0:
		return fmt.Errorf("%w: gap threshold %s", ErrInvalidPolicy, p.GapThreshold)
	case p.MajorGapThreshold < p.GapThreshold:
		return fmt.Errorf("%w: major gap threshold %s below gap threshold %s",
			ErrInvalidPolicy, p.MajorGapThreshold, p.GapThreshold)
	case p.TargetRecordsPerHour <= 0:
		return fmt.Errorf("%w: target density %g", ErrInvalidPolicy, p.TargetRecordsPerHour)
	}

	return nil
}

// Metrics is the outcome of Analyze.
type Metrics struct {
	Records        int           `json:"records"          yaml:"records"`
	PeriodStart    time.Time     `json:"period_start"     yaml:"period_start"`
	PeriodEnd      time.Time     `json:"period_end"       yaml:"period_end"`
	Period         time.Duration `json:"period"           yaml:"period"`
	Gaps           int           `json:"gaps"             yaml:"gaps"`
	MajorGaps      int           `json:"major_gaps"       yaml:"major_gaps"`
	GapDuration    time.Duration `json:"gap_duration"     yaml:"gap_duration"`
	LongestGap     time.Duration `json:"longest_gap"      yaml:"longest_gap"`
	UptimePercent  float64       `json:"uptime_percent"   yaml:"uptime_percent"`
	RecordsPerHour float64       `json:"records_per_hour" yaml:"records_per_hour"`

	UptimeScore    float64 `json:"uptime_score"    yaml:"uptime_score"`
	DensityScore   float64 `json:"density_score"   yaml:"density_score"`
	StabilityScore float64 `json:"stability_score" yaml:"stability_score"`
	MaturityBonus  float64 `json:"maturity_bonus"  yaml:"maturity_bonus"`
	Score          float64 `json:"score"           yaml:"score"`
	Label          string  `json:"label"           yaml:"label"`
}

// Analyze scores a timestamp sequence. Unordered input is sorted first. An
// empty sequence yields zero metrics labelled LabelNeedsImprovement.
func Analyze(timestamps []time.Time, policy Policy) Metrics {
	if len(timestamps) == 0 {
		return Metrics{Label: Label(0)}
	}

	sorted := sortTimes(timestamps)

	return analyze(sorted, sorted[0], sorted[len(sorted)-1], policy)
}

// AnalyzeWindow scores timestamps against a requested window. Silence between
// start and the first record, and between the last record and end, counts as
// gaps like any other. The window widens to cover records outside it.
func AnalyzeWindow(timestamps []time.Time, start, end time.Time, policy Policy) Metrics {
	if len(timestamps) == 0 {
		return Metrics{Label: Label(0)}
	}

	sorted := sortTimes(timestamps)

	first, last := sorted[0], sorted[len(sorted)-1]
	if !start.IsZero() && start.Before(first) {
		first = start
	}

	if end.After(last) {
		last = end
	}

	return analyze(sorted, first, last, policy)
}

func sortTimes(timestamps []time.Time) []time.Time {
	sorted := slices.Clone(timestamps)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })

	return sorted
}

func analyze(sorted []time.Time, start, end time.Time, policy Policy) Metrics {
	m := Metrics{
		Records:     len(sorted),
		PeriodStart: start,
		PeriodEnd:   end,
		Period:      end.Sub(start),
	}

	m.addGap(sorted[0].Sub(start), policy)

	for i := 1; i < len(sorted); i++ {
		m.addGap(sorted[i].Sub(sorted[i-1]), policy)
	}

	m.addGap(end.Sub(sorted[len(sorted)-1]), policy)

	m.UptimePercent = uptime(m.Period, m.GapDuration)
	m.RecordsPerHour = density(m.Records, m.Period)

	ratio := m.RecordsPerHour / policy.TargetRecordsPerHour
	if m.Period == 0 {
		ratio = float64(m.Records) / policy.TargetRecordsPerHour
	}

	m.UptimeScore = m.UptimePercent * uptimeWeight
	m.DensityScore = min(1, ratio) * densityWeight
	m.StabilityScore = max(0, stabilityWeight-majorGapPenalty*float64(m.MajorGaps))
	m.MaturityBonus = maturity(m.Period)
	m.Score = m.UptimeScore + m.DensityScore + m.StabilityScore + m.MaturityBonus
	m.Label = Label(m.Score)

	return m
}

// addGap counts an interval without records when it exceeds the threshold.
func (m *Metrics) addGap(gap time.Duration, policy Policy) {
	if gap <= policy.GapThreshold {
		return
	}

	m.Gaps++
	m.GapDuration += gap
	m.LongestGap = max(m.LongestGap, gap)

	if gap > policy.MajorGapThreshold {
		m.MajorGaps++
	}
}

func uptime(period, gaps time.Duration) float64 {
	if period <= 0 {
		return 100
	}

	pct := float64(period-gaps) / float64(period) * 100

	return min(max(pct, 0), 100)
}

func density(records int, period time.Duration) float64 {
	if period <= 0 {
		return 0
	}

	return float64(records) / period.Hours()
}

func maturity(period time.Duration) float64 {
	switch {
	case period >= 30*day:
		return maturityFull
	case period >= 7*day:
		return maturityPartial
	case period >= day:
		return maturityMinimal
	default:
		return 0
	}
}

// Label maps a 0-100 score onto its quality label.
func Label(score float64) string {
	switch {
	case score >= thresholdExcellent:
		return LabelExcellent
	case score >= thresholdGreat:
		return LabelGreat
	case score >= thresholdGood:
		return LabelGood
	case score >= thresholdFair:
		return LabelFair
	case score >= thresholdAcceptable:
		return LabelAcceptable
	default:
		return LabelNeedsImprovement
	}
}
