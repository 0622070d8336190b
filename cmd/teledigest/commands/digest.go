// Package commands implements CLI command handlers for teledigest.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/teledigest/pkg/config"
	"github.com/Sumatoshi-tech/teledigest/pkg/digest"
	"github.com/Sumatoshi-tech/teledigest/pkg/engine"
	"github.com/Sumatoshi-tech/teledigest/pkg/observability"
	"github.com/Sumatoshi-tech/teledigest/pkg/source"
)

// ErrInvalidBound is returned for a --from or --to value that is not a date.
var ErrInvalidBound = errors.New("invalid time bound")

// Accepted --from/--to layouts, tried in order.
var boundLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// DigestCommand holds the flags of the digest command.
type DigestCommand struct {
	subject     string
	from        string
	to          string
	format      string
	configPath  string
	metricsFile string
	noColor     bool
}

// NewDigestCommand creates the digest command.
func NewDigestCommand() *cobra.Command {
	dc := &DigestCommand{format: string(digest.FormatText)}

	cmd := &cobra.Command{
		Use:   "digest <records-file>",
		Short: "Aggregate a telemetry record file into a digest",
		Long: `Aggregate a JSON Lines telemetry record file into a vehicle data digest.

Each line is an envelope {"subject", "timestamp", "payload", "special"}.
Files ending in .lz4 or .zst are decompressed on the fly.

Examples:
  teledigest digest records.jsonl --subject 5YJ3E1EA7KF000001
  teledigest digest records.jsonl.zst --from 2026-04-01 --to 2026-04-08 --format table
  teledigest digest records.jsonl --format json --metrics-file metrics.prom`,
		Args: cobra.ExactArgs(1),
		RunE: dc.run,
	}

	cmd.Flags().StringVar(&dc.subject, "subject", "", "Only aggregate records of this subject")
	cmd.Flags().StringVar(&dc.from, "from", "", "Inclusive window start (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&dc.to, "to", "", "Exclusive window end (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&dc.format, "format", dc.format, "Output format: text, table, json, yaml, cbor")
	cmd.Flags().StringVar(&dc.configPath, "config", "", "Path to a teledigest.yaml configuration file")
	cmd.Flags().StringVar(&dc.metricsFile, "metrics-file", "", "Write Prometheus text metrics of the run to this file")
	cmd.Flags().BoolVar(&dc.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func (dc *DigestCommand) run(cmd *cobra.Command, args []string) error {
	format, err := digest.ParseFormat(dc.format)
	if err != nil {
		return err
	}

	query, err := dc.query()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(dc.configPath)
	if err != nil {
		return err
	}

	obsCfg := cfg.ObservabilityConfig()
	obsCfg.Prometheus = obsCfg.Prometheus || dc.metricsFile != ""
	obsCfg.LogLevel = logLevel(cmd, obsCfg.LogLevel)

	providers, err := observability.InitWithWriter(obsCfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.WithoutCancel(ctx))
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", slog.String(observability.AttrDetail, shutdownErr.Error()))
		}
	}()

	metrics, err := observability.NewEngineMetrics(providers.Meter)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithPolicy(cfg.EnginePolicy()),
		engine.WithQualityPolicy(cfg.QualityPolicy()),
		engine.WithLogger(providers.Logger),
		engine.WithTracer(providers.Tracer),
		engine.WithMetrics(metrics),
	}

	if cfg.Engine.Seed != 0 {
		opts = append(opts, engine.WithSeed(cfg.Engine.Seed, cfg.Engine.Seed))
	}

	eng, err := engine.New(opts...)
	if err != nil {
		return err
	}

	src := source.NewFileSource(args[0], providers.Logger)
	started := time.Now()

	res, err := eng.AggregateFrom(ctx, src, query, cfg.RetryPolicy())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	writeErr := dc.write(out, res.Digest, format)
	if writeErr != nil {
		return writeErr
	}

	if !quiet(cmd) {
		stats := src.Stats()
		fmt.Fprintf(cmd.ErrOrStderr(), "aggregated %s of %s lines (%s invalid) in %s\n",
			humanize.Comma(int64(stats.Matched)), humanize.Comma(int64(stats.Lines)),
			humanize.Comma(int64(stats.Invalid)), time.Since(started).Round(time.Millisecond))
	}

	if verbose(cmd) {
		for _, pe := range res.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "record %d: %v\n", pe.Record, pe)
		}
	}

	if dc.metricsFile != "" {
		return writeMetricsFile(dc.metricsFile, providers)
	}

	return nil
}

func (dc *DigestCommand) write(w io.Writer, d *digest.VehicleDataDigest, format digest.Format) error {
	if format == digest.FormatTable {
		return digest.RenderTable(w, d, !dc.noColor && !color.NoColor)
	}

	return digest.Encode(w, d, format)
}

func (dc *DigestCommand) query() (source.Query, error) {
	from, err := parseBound(dc.from)
	if err != nil {
		return source.Query{}, fmt.Errorf("--from: %w", err)
	}

	to, err := parseBound(dc.to)
	if err != nil {
		return source.Query{}, fmt.Errorf("--to: %w", err)
	}

	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return source.Query{}, fmt.Errorf("%w: --from %s is not before --to %s", ErrInvalidBound, dc.from, dc.to)
	}

	return source.Query{SubjectID: dc.subject, From: from, To: to}, nil
}

func parseBound(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	for _, layout := range boundLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidBound, value)
}

func writeMetricsFile(path string, providers observability.Providers) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}

	defer func() {
		err = errors.Join(err, file.Close())
	}()

	return observability.WritePrometheusText(file, providers.Registry)
}
