package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Sumatoshi-tech/teledigest/pkg/accumulate"
	"github.com/Sumatoshi-tech/teledigest/pkg/digest"
	"github.com/Sumatoshi-tech/teledigest/pkg/faults"
	"github.com/Sumatoshi-tech/teledigest/pkg/observability"
	"github.com/Sumatoshi-tech/teledigest/pkg/quality"
	"github.com/Sumatoshi-tech/teledigest/pkg/repair"
	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

// Diagnostic sources of run log entries.
const (
	sourceParser     = "parser"
	sourceRouter     = "router"
	sourceAccumulate = "accumulate"
)

const byteOrderMark = "\uFEFF"

// contentHash identifies sanitized record text within one run.
type contentHash = [32]byte

// run is the state of a single aggregation call. Nothing in it is shared
// with other runs.
type run struct {
	ctx        context.Context
	engine     *Engine
	logger     *slog.Logger
	set        *accumulate.Set
	seen       map[contentHash]struct{}
	errs       faults.Log
	diag       digest.Diagnostics
	timestamps []time.Time

	// record is the index of the record being routed, for audit logging.
	record int
}

func (e *Engine) newRun(ctx context.Context, capacity int) (*run, error) {
	r := &run{
		ctx:        ctx,
		engine:     e,
		logger:     e.logger,
		seen:       make(map[contentHash]struct{}, capacity),
		timestamps: make([]time.Time, 0, capacity),
	}

	set, err := accumulate.NewSet(e.policy, e.newRand(), r.reportConversion)
	if err != nil {
		return nil, fmt.Errorf("create accumulators: %w", err)
	}

	r.set = set

	return r, nil
}

func (r *run) reportConversion(c accumulate.Conversion) {
	r.logger.InfoContext(r.ctx, "unit heuristic applied",
		slog.String(observability.AttrSource, sourceAccumulate),
		slog.Int("record", r.record),
		slog.String(observability.AttrDetail, fmt.Sprintf("%s: %s %g -> %g", c.Field, c.Rule, c.Raw, c.Converted)),
		slog.String("field", c.Field),
		slog.String("rule", c.Rule),
		slog.Float64("raw", c.Raw),
		slog.Float64("converted", c.Converted),
	)
	r.engine.metrics.RecordConversion(r.ctx, c.Rule)
}

// looksLikeJSON is the cheap pre-repair guard: only text opening a container
// is worth sanitizing.
func looksLikeJSON(text string) bool {
	return text != "" && (text[0] == '{' || text[0] == '[')
}

func (r *run) process(index int, rec telemetry.RawRecord) {
	r.diag.TotalRecords++

	if !rec.Timestamp.IsZero() {
		r.timestamps = append(r.timestamps, rec.Timestamp)
	}

	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rec.Payload), byteOrderMark))
	if !looksLikeJSON(text) {
		r.diag.Skipped++
		r.logger.DebugContext(r.ctx, "skipping non-JSON record", slog.Int("record", index))

		return
	}

	fixed := repair.Repair(text)
	if fixed.Changed() {
		r.diag.Repairs += int64(len(fixed.Fixes))
		r.diag.RepairedRecords++
		r.logger.DebugContext(r.ctx, "record repaired",
			slog.String(observability.AttrSource, sourceParser),
			slog.Int("record", index),
			slog.String(observability.AttrDetail, strings.Join(fixed.Fixes, "; ")),
		)
	}

	hash := blake3.Sum256([]byte(fixed.Text))
	if _, dup := r.seen[hash]; dup {
		r.diag.Duplicates++

		return
	}

	r.seen[hash] = struct{}{}

	doc, err := telemetry.Decode(fixed.Text)
	if err != nil {
		r.diag.ParseErrors++
		r.errs.Append(faults.New(sourceParser, index, "record is not valid JSON after repair", err))
		r.logger.WarnContext(r.ctx, "skipping unparseable record",
			slog.String(observability.AttrSource, sourceParser),
			slog.Int("record", index),
			slog.String(observability.AttrDetail, err.Error()),
		)

		return
	}

	r.record = index
	r.route(index, doc, rec.Flags)
	r.diag.Processed++
}

// route dispatches every section of doc to its accumulator. Unknown section
// types are counted and skipped.
func (r *run) route(index int, doc telemetry.Value, flags telemetry.Flags) {
	for _, sec := range telemetry.Sections(doc, flags) {
		switch sec.Type {
		case telemetry.SectionVehicle:
			r.set.ConsumeVehicle(telemetry.DecodeVehicle(sec.Content))
		case telemetry.SectionCharging:
			r.set.ConsumeSessions(telemetry.DecodeChargingSessions(sec.Content))
		case telemetry.SectionSite:
			r.set.ConsumeSite(telemetry.DecodeEnergySite(sec.Content))
		case telemetry.SectionUnknown:
			r.diag.UnknownSections++
			r.logger.DebugContext(r.ctx, "skipping unknown section",
				slog.String(observability.AttrSource, sourceRouter),
				slog.Int("record", index),
				slog.String("type", sec.Declared),
			)
		}
	}
}

func (r *run) finish(subjectID string, period digest.Period) *Result {
	r.diag.UnitConversions = r.set.Conversions()
	r.diag.RejectedValues = r.set.Rejected()
	r.diag.ErrorsByKind = make(map[string]int)

	for kind, n := range r.errs.CountByKind() {
		r.diag.ErrorsByKind[kind.String()] = n
	}

	// A requested window is scored as a whole, so silence at its edges is downtime.
	q := quality.Analyze(r.timestamps, r.engine.quality)
	if period.Duration() > 0 {
		q = quality.AnalyzeWindow(r.timestamps, period.Start, period.End, r.engine.quality)
	}

	d := digest.Assemble(digest.Input{
		SubjectID:   subjectID,
		Period:      period,
		Diagnostics: r.diag,
		Metrics:     r.set.Finalize(),
		Quality:     q,
	})

	clear(r.seen)

	return &Result{Digest: d, Errors: r.errs.Entries()}
}
