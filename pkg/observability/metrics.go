package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
)

const (
	metricRecordsTotal    = "teledigest.records.total"
	metricRepairsTotal    = "teledigest.repairs.total"
	metricUnknownSections = "teledigest.sections.unknown.total"
	metricConversions     = "teledigest.conversions.total"
	metricRetriesTotal    = "teledigest.retries.total"
	metricRunDuration     = "teledigest.run.duration.seconds"

	attrOutcome = "outcome"
	attrRule    = "rule"
	attrStatus  = "status"
)

// Record outcomes.
const (
	OutcomeProcessed  = "processed"
	OutcomeSkipped    = "skipped"
	OutcomeDuplicate  = "duplicate"
	OutcomeParseError = "parse_error"
)

// Run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// durationBucketBoundaries covers 1ms to 120s aggregation runs.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// EngineMetrics holds the OTel instruments of the aggregation engine.
type EngineMetrics struct {
	records     metric.Int64Counter
	repairs     metric.Int64Counter
	unknown     metric.Int64Counter
	conversions metric.Int64Counter
	retries     metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewEngineMetrics creates the engine instruments from mt.
func NewEngineMetrics(mt metric.Meter) (*EngineMetrics, error) {
	records, err := mt.Int64Counter(metricRecordsTotal,
		metric.WithDescription("Raw records seen, by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRecordsTotal, err)
	}

	repairs, err := mt.Int64Counter(metricRepairsTotal,
		metric.WithDescription("Structural fixes applied by the repair parser"),
		metric.WithUnit("{fix}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRepairsTotal, err)
	}

	unknown, err := mt.Int64Counter(metricUnknownSections,
		metric.WithDescription("Sections with an unrecognized type"),
		metric.WithUnit("{section}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricUnknownSections, err)
	}

	conversions, err := mt.Int64Counter(metricConversions,
		metric.WithDescription("Unit heuristic conversions, by rule"),
		metric.WithUnit("{conversion}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricConversions, err)
	}

	retries, err := mt.Int64Counter(metricRetriesTotal,
		metric.WithDescription("Retried collaborator calls"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRetriesTotal, err)
	}

	duration, err := mt.Float64Histogram(metricRunDuration,
		metric.WithDescription("Aggregation run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRunDuration, err)
	}

	return &EngineMetrics{
		records:     records,
		repairs:     repairs,
		unknown:     unknown,
		conversions: conversions,
		retries:     retries,
		duration:    duration,
	}, nil
}

// NoopEngineMetrics returns instruments that record nothing.
func NoopEngineMetrics() *EngineMetrics {
	em, err := NewEngineMetrics(noopmetric.NewMeterProvider().Meter(InstrumentationName))
	if err != nil {
		panic(fmt.Sprintf("noop meter failed: %v", err))
	}

	return em
}

// RecordOutcome counts n records with the given outcome.
func (em *EngineMetrics) RecordOutcome(ctx context.Context, outcome string, n int64) {
	if n == 0 {
		return
	}

	em.records.Add(ctx, n, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordRepairs counts applied fixes.
func (em *EngineMetrics) RecordRepairs(ctx context.Context, n int64) {
	if n > 0 {
		em.repairs.Add(ctx, n)
	}
}

// RecordUnknownSections counts skipped sections.
func (em *EngineMetrics) RecordUnknownSections(ctx context.Context, n int64) {
	if n > 0 {
		em.unknown.Add(ctx, n)
	}
}

// RecordConversion counts one unit heuristic firing.
func (em *EngineMetrics) RecordConversion(ctx context.Context, rule string) {
	em.conversions.Add(ctx, 1, metric.WithAttributes(attribute.String(attrRule, rule)))
}

// RecordRetry counts one retried call.
func (em *EngineMetrics) RecordRetry(ctx context.Context) {
	em.retries.Add(ctx, 1)
}

// RecordRun records the duration of a finished run.
func (em *EngineMetrics) RecordRun(ctx context.Context, status string, d time.Duration) {
	em.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String(attrStatus, status)))
}
