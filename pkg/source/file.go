package source

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/teledigest/pkg/faults"
	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

// Line buffer bounds. Payloads of a single record may be large.
const (
	initialLineBuffer = 64 * 1024
	maxLineBytes      = 16 * 1024 * 1024
)

//go:embed envelope.schema.json
var envelopeSchemaJSON []byte

var (
	envelopeSchema     *gojsonschema.Schema
	envelopeSchemaErr  error
	envelopeSchemaOnce sync.Once
)

func loadEnvelopeSchema() (*gojsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		envelopeSchema, envelopeSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(envelopeSchemaJSON))
	})

	return envelopeSchema, envelopeSchemaErr
}

// envelope is one JSONL line. Payload holds either a JSON string with the
// raw (possibly malformed) record text or an embedded JSON document.
type envelope struct {
	Subject   string          `json:"subject"`
	Timestamp json.RawMessage `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Special   bool            `json:"special"`
}

// FileStats describes the last Fetch of a FileSource.
type FileStats struct {
	Lines    int
	Invalid  int
	Matched  int
	Filtered int
}

// FileSource reads JSON Lines envelopes from a file. Files ending in .lz4 or
// .zst/.zstd are decompressed on the fly.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	stats FileStats
}

// NewFileSource creates a FileSource. A nil logger discards diagnostics.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &FileSource{path: path, logger: logger.With(slog.String("source", "file"))}
}

// Stats returns the counters of the last Fetch.
func (src *FileSource) Stats() FileStats {
	src.mu.Lock()
	defer src.mu.Unlock()

	return src.stats
}

// Fetch reads, validates and filters every envelope, returning the matching
// records sorted by timestamp. Lines that fail schema validation are skipped.
// A missing or unreadable file wraps faults.ErrValidation; read failures
// after opening wrap faults.ErrDataAccess.
func (src *FileSource) Fetch(ctx context.Context, q Query) ([]telemetry.RawRecord, error) {
	schema, err := loadEnvelopeSchema()
	if err != nil {
		return nil, fmt.Errorf("%w: compile envelope schema: %w", faults.ErrSystem, err)
	}

	file, err := os.Open(src.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: open %s: %w", faults.ErrValidation, src.path, err)
		}

		return nil, fmt.Errorf("%w: open %s: %w", faults.ErrDataAccess, src.path, err)
	}
	defer file.Close()

	reader, closeReader, err := decompress(src.path, file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", faults.ErrDataAccess, src.path, err)
	}
	defer closeReader()

	var (
		stats   FileStats
		records []telemetry.RawRecord
	)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBytes)

	for scanner.Scan() {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, ctxErr
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		stats.Lines++

		subject, rec, parseErr := parseLine(schema, line)
		if parseErr != nil {
			stats.Invalid++
			src.logger.WarnContext(ctx, "skipping invalid envelope",
				slog.Int("line", stats.Lines),
				slog.String("detail", parseErr.Error()),
			)

			continue
		}

		if !q.Matches(subject, rec.Timestamp) {
			stats.Filtered++

			continue
		}

		records = append(records, rec)
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("%w: read %s: %w", faults.ErrDataAccess, src.path, scanErr)
	}

	slices.SortStableFunc(records, func(a, b telemetry.RawRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	stats.Matched = len(records)

	src.mu.Lock()
	src.stats = stats
	src.mu.Unlock()

	return records, nil
}

func parseLine(schema *gojsonschema.Schema, line []byte) (string, telemetry.RawRecord, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return "", telemetry.RawRecord{}, fmt.Errorf("%w: %w", faults.ErrParse, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}

		return "", telemetry.RawRecord{}, fmt.Errorf("%w: %s", faults.ErrValidation, strings.Join(msgs, "; "))
	}

	var env envelope

	err = json.Unmarshal(line, &env)
	if err != nil {
		return "", telemetry.RawRecord{}, fmt.Errorf("%w: %w", faults.ErrParse, err)
	}

	ts, ok := telemetry.Of(decodeRaw(env.Timestamp)).Time()
	if !ok {
		return "", telemetry.RawRecord{}, fmt.Errorf("%w: unparseable timestamp %s", faults.ErrValidation, env.Timestamp)
	}

	payload := string(env.Payload)
	if len(env.Payload) > 0 && env.Payload[0] == '"' {
		err = json.Unmarshal(env.Payload, &payload)
		if err != nil {
			return "", telemetry.RawRecord{}, fmt.Errorf("%w: %w", faults.ErrParse, err)
		}
	}

	return env.Subject, telemetry.RawRecord{
		Timestamp: ts,
		Payload:   payload,
		Flags:     telemetry.Flags{SpecialSession: env.Special},
	}, nil
}

func decodeRaw(raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any

	err := dec.Decode(&v)
	if err != nil {
		return nil
	}

	return v
}

func decompress(path string, r io.Reader) (io.Reader, func(), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lz4":
		return lz4.NewReader(r), func() {}, nil
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open zstd stream: %w", err)
		}

		return dec, dec.Close, nil
	default:
		return r, func() {}, nil
	}
}

// WriteFile writes records as JSON Lines envelopes, compressed by extension
// like FileSource reads them. Payloads are stored as JSON strings.
func WriteFile(path, subject string, records []telemetry.RawRecord) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	defer func() {
		err = errors.Join(err, file.Close())
	}()

	w, closeWriter, err := compress(path, file)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)

	for _, rec := range records {
		encodeErr := enc.Encode(map[string]any{
			"subject":   subject,
			"timestamp": rec.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":   rec.Payload,
			"special":   rec.Flags.SpecialSession,
		})
		if encodeErr != nil {
			return errors.Join(fmt.Errorf("encode record: %w", encodeErr), closeWriter())
		}
	}

	return closeWriter()
}

func compress(path string, w io.Writer) (io.Writer, func() error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lz4":
		lw := lz4.NewWriter(w)

		return lw, lw.Close, nil
	case ".zst", ".zstd":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("open zstd writer: %w", err)
		}

		return zw, zw.Close, nil
	default:
		return w, func() error { return nil }, nil
	}
}
