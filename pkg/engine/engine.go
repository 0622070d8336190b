// Package engine runs aggregation: it sanitizes a raw record stream, routes
// every parsed section into the category accumulators, scores data quality,
// and assembles the digest. Each call owns its own run state, so one Engine
// may serve concurrent calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/teledigest/pkg/accumulate"
	"github.com/Sumatoshi-tech/teledigest/pkg/digest"
	"github.com/Sumatoshi-tech/teledigest/pkg/faults"
	"github.com/Sumatoshi-tech/teledigest/pkg/observability"
	"github.com/Sumatoshi-tech/teledigest/pkg/quality"
	"github.com/Sumatoshi-tech/teledigest/pkg/retry"
	"github.com/Sumatoshi-tech/teledigest/pkg/source"
	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

const (
	spanAggregate = "teledigest.aggregate"
	eventRetry    = "retry.attempt"
	sourceEngine  = "engine"
)

// Result is the outcome of one aggregation run.
type Result struct {
	Digest *digest.VehicleDataDigest
	// Errors is the run's append-only log of recovered record failures.
	Errors []faults.ProcessingError
}

// Engine aggregates raw records into digests.
type Engine struct {
	policy  accumulate.Policy
	quality quality.Policy
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.EngineMetrics
	newRand func() *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the accumulation policy.
func WithPolicy(p accumulate.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithQualityPolicy sets the gap analysis policy.
func WithQualityPolicy(p quality.Policy) Option {
	return func(e *Engine) { e.quality = p }
}

// WithLogger sets the diagnostic logger. Nil discards diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer sets the tracer that opens the per-run span.
func WithTracer(tr trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tr }
}

// WithMetrics sets the engine instruments.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSeed makes reservoir sampling reproducible: every run starts from a PCG
// source seeded with seed1 and seed2.
func WithSeed(seed1, seed2 uint64) Option {
	return func(e *Engine) {
		e.newRand = func() *rand.Rand { return rand.New(rand.NewPCG(seed1, seed2)) }
	}
}

// New creates an Engine with default policies, overridden by opts.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		policy:  accumulate.DefaultPolicy(),
		quality: quality.DefaultPolicy(),
		newRand: func() *rand.Rand { return nil },
	}

	for _, opt := range opts {
		opt(e)
	}

	policyErr := e.policy.Validate()
	if policyErr != nil {
		return nil, policyErr
	}

	qualityErr := e.quality.Validate()
	if qualityErr != nil {
		return nil, qualityErr
	}

	e.logger = observability.Component(e.logger, sourceEngine)

	if e.tracer == nil {
		e.tracer = otel.Tracer(observability.InstrumentationName)
	}

	if e.metrics == nil {
		e.metrics = observability.NoopEngineMetrics()
	}

	return e, nil
}

// Aggregate processes records in the given order and returns the digest of
// the valid subset. Malformed records are skipped and logged in
// Result.Errors; they never fail the run. The digest period is the observed
// timestamp span.
func (e *Engine) Aggregate(ctx context.Context, subjectID string, records []telemetry.RawRecord) (*Result, error) {
	started := time.Now()

	ctx, span := e.startSpan(ctx, subjectID)
	defer span.End()

	return e.aggregate(ctx, span, started, subjectID, digest.Period{}, records)
}

// AggregateFrom fetches the records selected by q through retry.Do and
// aggregates them. Exhausted or non-retryable fetch failures fail the whole
// call. When q has both bounds they become the digest period, and quality is
// scored over that whole window. The engine
// installs its own retry observer; opts may override sleep, jitter, the
// retry allow-list, and the logger.
func (e *Engine) AggregateFrom(
	ctx context.Context, src source.Source, q source.Query, policy retry.Policy, opts ...retry.Option,
) (*Result, error) {
	started := time.Now()

	ctx, span := e.startSpan(ctx, q.SubjectID)
	defer span.End()

	observer := func(a retry.Attempt) {
		span.AddEvent(eventRetry, trace.WithAttributes(
			attribute.Int("retry.number", a.Number),
			attribute.Int64("retry.delay_ms", a.Delay.Milliseconds()),
			attribute.String("retry.error", a.Err.Error()),
		))
		e.metrics.RecordRetry(ctx)
	}

	retryOpts := make([]retry.Option, 0, len(opts)+2)
	retryOpts = append(retryOpts, retry.WithLogger(e.logger))
	retryOpts = append(retryOpts, opts...)
	retryOpts = append(retryOpts, retry.WithObserver(observer))

	records, err := retry.Do(ctx, policy, func(ctx context.Context) ([]telemetry.RawRecord, error) {
		return src.Fetch(ctx, q)
	}, retryOpts...)
	if err != nil {
		observability.RecordSpanError(span, err, "source")
		e.metrics.RecordRun(ctx, observability.StatusError, time.Since(started))
		e.logger.ErrorContext(ctx, "fetching records failed",
			slog.String("subject", q.SubjectID),
			slog.String(observability.AttrDetail, err.Error()),
		)

		return nil, fmt.Errorf("fetch records of %q: %w", q.SubjectID, err)
	}

	var period digest.Period
	if !q.From.IsZero() && !q.To.IsZero() {
		period = digest.Period{Start: q.From, End: q.To}
	}

	return e.aggregate(ctx, span, started, q.SubjectID, period, records)
}

func (e *Engine) startSpan(ctx context.Context, subjectID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, spanAggregate, trace.WithAttributes(
		attribute.String("subject.id", subjectID),
	))
}

func (e *Engine) aggregate(
	ctx context.Context, span trace.Span, started time.Time,
	subjectID string, period digest.Period, records []telemetry.RawRecord,
) (*Result, error) {
	r, err := e.newRun(ctx, len(records))
	if err != nil {
		observability.RecordSpanError(span, err, sourceEngine)
		e.metrics.RecordRun(ctx, observability.StatusError, time.Since(started))

		return nil, err
	}

	for i, rec := range records {
		r.process(i, rec)
	}

	res := r.finish(subjectID, period)
	diag := res.Digest.Diagnostics

	span.SetAttributes(
		attribute.Int64("records.total", diag.TotalRecords),
		attribute.Int64("records.processed", diag.Processed),
		attribute.Int64("records.skipped", diag.Skipped),
		attribute.Int64("records.duplicates", diag.Duplicates),
		attribute.Int64("records.parse_errors", diag.ParseErrors),
		attribute.Float64("quality.score", res.Digest.Quality.Score),
	)

	e.recordMetrics(ctx, diag)
	e.metrics.RecordRun(ctx, observability.StatusOK, time.Since(started))

	e.logger.InfoContext(ctx, "aggregation finished",
		slog.String("subject", subjectID),
		slog.Int64("records", diag.TotalRecords),
		slog.Int64("processed", diag.Processed),
		slog.Int("errors", len(res.Errors)),
		slog.Duration("elapsed", time.Since(started)),
	)

	return res, nil
}

func (e *Engine) recordMetrics(ctx context.Context, diag digest.Diagnostics) {
	e.metrics.RecordOutcome(ctx, observability.OutcomeProcessed, diag.Processed)
	e.metrics.RecordOutcome(ctx, observability.OutcomeSkipped, diag.Skipped)
	e.metrics.RecordOutcome(ctx, observability.OutcomeDuplicate, diag.Duplicates)
	e.metrics.RecordOutcome(ctx, observability.OutcomeParseError, diag.ParseErrors)
	e.metrics.RecordRepairs(ctx, diag.Repairs)
	e.metrics.RecordUnknownSections(ctx, diag.UnknownSections)
}
