// Package source defines the record-store collaborator of the engine and a
// file-backed implementation reading JSON Lines envelopes.
package source

import (
	"context"
	"time"

	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

// Query selects the records of one subject inside a time window. Zero bounds
// are open; From is inclusive and To exclusive.
type Query struct {
	SubjectID string
	From      time.Time
	To        time.Time
}

// Matches reports whether a record of subject at ts falls inside the query.
// An empty SubjectID matches every subject.
func (q Query) Matches(subject string, ts time.Time) bool {
	if q.SubjectID != "" && subject != q.SubjectID {
		return false
	}

	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}

	return q.To.IsZero() || ts.Before(q.To)
}

// Source fetches raw records in ascending timestamp order. Transient failures
// wrap faults.ErrDataAccess.
type Source interface {
	Fetch(ctx context.Context, q Query) ([]telemetry.RawRecord, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context, q Query) ([]telemetry.RawRecord, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, q Query) ([]telemetry.RawRecord, error) {
	return f(ctx, q)
}

// Static serves a fixed record list, filtered by the query.
type Static []StaticRecord

// StaticRecord is a record tagged with its subject.
type StaticRecord struct {
	SubjectID string
	Record    telemetry.RawRecord
}

// Fetch returns the matching records in their stored order.
func (s Static) Fetch(_ context.Context, q Query) ([]telemetry.RawRecord, error) {
	var out []telemetry.RawRecord

	for _, sr := range s {
		if q.Matches(sr.SubjectID, sr.Record.Timestamp) {
			out = append(out, sr.Record)
		}
	}

	return out, nil
}
