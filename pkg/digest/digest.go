// Package digest assembles the fixed-shape VehicleDataDigest from finalized
// accumulator and quality metrics, and renders it as text, a table, or an
// encoded document.
package digest

import (
	"time"

	"github.com/Sumatoshi-tech/teledigest/pkg/accumulate"
	"github.com/Sumatoshi-tech/teledigest/pkg/quality"
)

// Period is the observed time span of a run.
type Period struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end"   yaml:"end"`
}

// Duration returns End-Start, or zero for an empty period.
func (p Period) Duration() time.Duration {
	if p.Start.IsZero() || p.End.Before(p.Start) {
		return 0
	}

	return p.End.Sub(p.Start)
}

// Diagnostics counts what happened to the raw records of a run.
type Diagnostics struct {
	TotalRecords    int64          `json:"total_records"    yaml:"total_records"`
	Processed       int64          `json:"processed"        yaml:"processed"`
	Skipped         int64          `json:"skipped"          yaml:"skipped"`
	Duplicates      int64          `json:"duplicates"       yaml:"duplicates"`
	ParseErrors     int64          `json:"parse_errors"     yaml:"parse_errors"`
	UnknownSections int64          `json:"unknown_sections" yaml:"unknown_sections"`
	Repairs         int64          `json:"repairs"          yaml:"repairs"`
	RepairedRecords int64          `json:"repaired_records" yaml:"repaired_records"`
	UnitConversions int64          `json:"unit_conversions" yaml:"unit_conversions"`
	RejectedValues  int64          `json:"rejected_values"  yaml:"rejected_values"`
	ErrorsByKind    map[string]int `json:"errors_by_kind"   yaml:"errors_by_kind"`
}

// VehicleDataDigest is the immutable result of one aggregation run.
type VehicleDataDigest struct {
	SubjectID   string                       `json:"subject_id"  yaml:"subject_id"`
	Period      Period                       `json:"period"      yaml:"period"`
	Diagnostics Diagnostics                  `json:"diagnostics" yaml:"diagnostics"`
	Battery     accumulate.BatteryMetrics    `json:"battery"     yaml:"battery"`
	Charging    accumulate.ChargingMetrics   `json:"charging"    yaml:"charging"`
	Driving     accumulate.DrivingMetrics    `json:"driving"     yaml:"driving"`
	Climate     accumulate.ClimateMetrics    `json:"climate"     yaml:"climate"`
	Efficiency  accumulate.EfficiencyMetrics `json:"efficiency"  yaml:"efficiency"`
	Quality     quality.Metrics              `json:"quality"     yaml:"quality"`
}

// Input carries everything Assemble needs.
type Input struct {
	SubjectID   string
	Period      Period
	Diagnostics Diagnostics
	Metrics     accumulate.Metrics
	Quality     quality.Metrics
}

// Assemble builds the digest. When in.Period is empty the quality period is used.
func Assemble(in Input) *VehicleDataDigest {
	period := in.Period
	if period.Start.IsZero() && period.End.IsZero() {
		period = Period{Start: in.Quality.PeriodStart, End: in.Quality.PeriodEnd}
	}

	return &VehicleDataDigest{
		SubjectID:   in.SubjectID,
		Period:      period,
		Diagnostics: in.Diagnostics,
		Battery:     in.Metrics.Battery,
		Charging:    in.Metrics.Charging,
		Driving:     in.Metrics.Driving,
		Climate:     in.Metrics.Climate,
		Efficiency:  in.Metrics.Efficiency,
		Quality:     in.Quality,
	}
}
