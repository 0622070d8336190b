package engine_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/teledigest/pkg/accumulate"
	"github.com/Sumatoshi-tech/teledigest/pkg/engine"
	"github.com/Sumatoshi-tech/teledigest/pkg/faults"
	"github.com/Sumatoshi-tech/teledigest/pkg/observability"
	"github.com/Sumatoshi-tech/teledigest/pkg/quality"
	"github.com/Sumatoshi-tech/teledigest/pkg/retry"
	"github.com/Sumatoshi-tech/teledigest/pkg/source"
	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

var base = time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

func at(minute int, payload string) telemetry.RawRecord {
	return telemetry.RawRecord{Timestamp: base.Add(time.Duration(minute) * time.Minute), Payload: payload}
}

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()

	e, err := engine.New(opts...)
	require.NoError(t, err)

	return e
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestAggregate_EndToEnd(t *testing.T) {
	t.Parallel()

	records := []telemetry.RawRecord{
		at(0, `{"charge_state":{"battery_level":55}}`),
		at(1, `{"battery_level":55 "ok":true}`),
		at(2, `garbage, definitely not JSON`),
	}

	res, err := newEngine(t).Aggregate(context.Background(), "car-1", records)
	require.NoError(t, err)
	require.NotNil(t, res.Digest)

	d := res.Digest
	assert.Equal(t, "car-1", d.SubjectID)
	assert.InDelta(t, 55.0, d.Battery.AvgLevel, 1e-9)
	assert.Equal(t, int64(2), d.Battery.Samples)
	assert.Equal(t, int64(3), d.Diagnostics.TotalRecords)
	assert.Equal(t, int64(2), d.Diagnostics.Processed)
	assert.Equal(t, int64(1), d.Diagnostics.Skipped)
	assert.Equal(t, int64(1), d.Diagnostics.RepairedRecords)
	assert.Positive(t, d.Diagnostics.Repairs)
	assert.Empty(t, res.Errors)

	assert.Equal(t, 3, d.Quality.Records)
	assert.Equal(t, base, d.Period.Start)
	assert.Equal(t, base.Add(2*time.Minute), d.Period.End)
}

func TestAggregate_SkipsDuplicateContent(t *testing.T) {
	t.Parallel()

	records := []telemetry.RawRecord{
		at(0, `{"charge_state":{"battery_level":40}}`),
		at(1, "  \uFEFF{\"charge_state\":{\"battery_level\":40}}\n"),
		at(2, `{"charge_state":{"battery_level":40,}}`),
		at(3, `{"charge_state":{"battery_level":60}}`),
	}

	res, err := newEngine(t).Aggregate(context.Background(), "car", records)
	require.NoError(t, err)

	diag := res.Digest.Diagnostics
	assert.Equal(t, int64(2), diag.Duplicates)
	assert.Equal(t, int64(2), diag.Processed)
	assert.InDelta(t, 50.0, res.Digest.Battery.AvgLevel, 1e-9)
}

func TestAggregate_LogsParseErrorsAndContinues(t *testing.T) {
	t.Parallel()

	records := []telemetry.RawRecord{
		at(0, `{battery_level: 10}`),
		at(1, `{"charge_state":{"battery_level":70}}`),
		at(2, `{"charge_state":{"battery_level":71}`),
	}

	res, err := newEngine(t).Aggregate(context.Background(), "car", records)
	require.NoError(t, err)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, faults.KindParse, res.Errors[0].Kind)
	assert.Equal(t, "parser", res.Errors[0].Source)
	assert.Equal(t, 0, res.Errors[0].Record)
	assert.Equal(t, 2, res.Errors[1].Record)

	diag := res.Digest.Diagnostics
	assert.Equal(t, int64(2), diag.ParseErrors)
	assert.Equal(t, int64(1), diag.Processed)
	assert.Equal(t, map[string]int{"parse": 2}, diag.ErrorsByKind)
	assert.InDelta(t, 70.0, res.Digest.Battery.AvgLevel, 1e-9)
}

func TestAggregate_RoutesSections(t *testing.T) {
	t.Parallel()

	sections := `{"response":{"data":[
		{"type":"vehicle_data","content":{"charge_state":{"battery_level":80}}},
		{"type":"weather","content":{"rain":true}},
		{"type":"energy_site","content":{"solar_power":3000,"load_power":1000,"grid_power":0}}
	]}}`

	session := telemetry.RawRecord{
		Timestamp: base.Add(5 * time.Minute),
		Payload: `{"sessions":[
			{"session_id":"s1","site_name":"Home garage","energy_delivered":10,"total_cost":3,"currency":"EUR"},
			{"session_id":"s2","site_name":"Supercharger","energy_delivered":20,"total_cost":9,"currency":"EUR"}
		]}`,
		Flags: telemetry.Flags{SpecialSession: true},
	}

	res, err := newEngine(t).Aggregate(context.Background(), "car", []telemetry.RawRecord{at(0, sections), session})
	require.NoError(t, err)

	d := res.Digest
	assert.Equal(t, int64(1), d.Diagnostics.UnknownSections)
	assert.Equal(t, int64(2), d.Diagnostics.Processed)
	assert.Equal(t, int64(1), d.Battery.Samples)
	assert.Equal(t, int64(1), d.Efficiency.Site.Samples)
	assert.Equal(t, 2, d.Charging.Sessions)
	assert.Equal(t, 1, d.Charging.HomeSessions)
	assert.InDelta(t, 30.0, d.Charging.TotalEnergyKWh, 1e-9)
	assert.Equal(t, "EUR", d.Charging.Currency)
}

func TestAggregate_CountsUnitConversions(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	em, err := observability.NewEngineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	var logs bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := newEngine(t, engine.WithMetrics(em), engine.WithLogger(logger))

	res, err := e.Aggregate(context.Background(), "car", []telemetry.RawRecord{
		at(0, `nope`),
		at(1, `{"charge_state":{"battery_level":50,"battery_range":100}}`),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Digest.Diagnostics.UnitConversions)
	assert.InDelta(t, 160.9344, res.Digest.Battery.AvgRangeKm, 1e-9)

	var conversions []map[string]any

	lines := bufio.NewScanner(&logs)
	for lines.Scan() {
		var entry map[string]any

		require.NoError(t, json.Unmarshal(lines.Bytes(), &entry))

		if entry["msg"] == "unit heuristic applied" {
			conversions = append(conversions, entry)
		}
	}

	require.Len(t, conversions, 1)
	assert.InDelta(t, 1, conversions[0]["record"], 0)
	assert.Equal(t, "accumulate", conversions[0]["source"])
	assert.Equal(t, "battery_range", conversions[0]["field"])
	assert.Contains(t, conversions[0]["detail"], "miles_to_km")

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}

			for _, dp := range sum.DataPoints {
				label := m.Name
				if v, found := dp.Attributes.Value("outcome"); found {
					label += "/" + v.AsString()
				}

				sums[label] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(1), sums["teledigest.conversions.total"])
	assert.Equal(t, int64(1), sums["teledigest.records.total/processed"])
	assert.Equal(t, int64(1), sums["teledigest.records.total/skipped"])
}

func TestAggregate_OpensOneSpan(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	e := newEngine(t, engine.WithTracer(tp.Tracer("test")))

	_, err := e.Aggregate(context.Background(), "car", []telemetry.RawRecord{at(0, `{"battery_level":1}`)})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "teledigest.aggregate", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int64("records.total", 1))
	assert.Contains(t, spans[0].Attributes(), attribute.String("subject.id", "car"))
}

func TestAggregate_SeededRunsAreReproducible(t *testing.T) {
	t.Parallel()

	policy := accumulate.DefaultPolicy()
	policy.ReservoirCapacity = 5

	records := make([]telemetry.RawRecord, 0, 60)
	for i := range 60 {
		records = append(records, at(i, fmt.Sprintf(`{"charge_state":{"battery_level":%d}}`, i+20)))
	}

	first, err := newEngine(t, engine.WithPolicy(policy), engine.WithSeed(7, 11)).
		Aggregate(context.Background(), "car", records)
	require.NoError(t, err)

	second, err := newEngine(t, engine.WithPolicy(policy), engine.WithSeed(7, 11)).
		Aggregate(context.Background(), "car", records)
	require.NoError(t, err)

	assert.Equal(t, first.Digest.Battery, second.Digest.Battery)
	assert.InDelta(t, 49.5, first.Digest.Battery.AvgLevel, 1e-9)
}

func TestAggregate_ConcurrentRunsAreIndependent(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	const runs = 8

	results := make([]*engine.Result, runs)

	var wg sync.WaitGroup

	for i := range runs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			res, err := e.Aggregate(context.Background(), "car", []telemetry.RawRecord{
				at(0, fmt.Sprintf(`{"charge_state":{"battery_level":%d}}`, 10+i)),
				at(1, fmt.Sprintf(`{"charge_state":{"battery_level":%d}}`, 10+i)),
			})
			assert.NoError(t, err)

			results[i] = res
		}()
	}

	wg.Wait()

	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, int64(1), res.Digest.Diagnostics.Duplicates)
		assert.InDelta(t, float64(10+i), res.Digest.Battery.AvgLevel, 1e-9)
	}
}

func TestAggregateFrom_UsesQueryWindow(t *testing.T) {
	t.Parallel()

	src := source.Static{
		{SubjectID: "car", Record: at(10, `{"charge_state":{"battery_level":90}}`)},
		{SubjectID: "car", Record: at(120, `{"charge_state":{"battery_level":10}}`)},
		{SubjectID: "other", Record: at(11, `{"charge_state":{"battery_level":10}}`)},
	}

	q := source.Query{SubjectID: "car", From: base, To: base.Add(time.Hour)}

	res, err := newEngine(t).AggregateFrom(context.Background(), src, q, retry.DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, base, res.Digest.Period.Start)
	assert.Equal(t, base.Add(time.Hour), res.Digest.Period.End)
	assert.Equal(t, int64(1), res.Digest.Diagnostics.TotalRecords)
	assert.InDelta(t, 90.0, res.Digest.Battery.AvgLevel, 1e-9)

	// The 50 silent minutes after the only record count against uptime.
	qm := res.Digest.Quality
	assert.Equal(t, time.Hour, qm.Period)
	assert.Equal(t, 1, qm.Gaps)
	assert.Equal(t, 50*time.Minute, qm.LongestGap)
	assert.InDelta(t, 100.0/6, qm.UptimePercent, 1e-9)
}

func TestAggregateFrom_ExhaustedRetriesFailTheRun(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	calls := 0
	src := source.Func(func(context.Context, source.Query) ([]telemetry.RawRecord, error) {
		calls++

		return nil, fmt.Errorf("%w: connection reset", faults.ErrDataAccess)
	})

	policy := retry.Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}

	res, err := newEngine(t, engine.WithTracer(tp.Tracer("test"))).
		AggregateFrom(context.Background(), src, source.Query{SubjectID: "car"}, policy, retry.WithSleep(noSleep))
	require.Error(t, err)
	assert.Nil(t, res)
	require.ErrorIs(t, err, retry.ErrExhausted)
	require.ErrorIs(t, err, faults.ErrDataAccess)
	assert.Equal(t, 3, calls)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	events := 0

	for _, ev := range spans[0].Events() {
		if ev.Name == "retry.attempt" {
			events++
		}
	}

	assert.Equal(t, 2, events)
}

func TestAggregateFrom_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	src := source.Func(func(context.Context, source.Query) ([]telemetry.RawRecord, error) {
		calls++

		return nil, fmt.Errorf("%w: out of memory", faults.ErrSystem)
	})

	_, err := newEngine(t).AggregateFrom(context.Background(), src, source.Query{}, retry.DefaultPolicy(),
		retry.WithSleep(noSleep))
	require.ErrorIs(t, err, faults.ErrSystem)
	require.NotErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestNew_RejectsInvalidPolicies(t *testing.T) {
	t.Parallel()

	_, err := engine.New(engine.WithPolicy(accumulate.Policy{}))
	require.ErrorIs(t, err, accumulate.ErrInvalidPolicy)

	_, err = engine.New(engine.WithQualityPolicy(quality.Policy{}))
	require.ErrorIs(t, err, quality.ErrInvalidPolicy)
}

func TestAggregate_EmptyInput(t *testing.T) {
	t.Parallel()

	res, err := newEngine(t).Aggregate(context.Background(), "car", nil)
	require.NoError(t, err)

	assert.Zero(t, res.Digest.Diagnostics.TotalRecords)
	assert.Equal(t, quality.LabelNeedsImprovement, res.Digest.Quality.Label)
	assert.Empty(t, res.Errors)
}
