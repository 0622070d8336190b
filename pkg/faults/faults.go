// Package faults defines the error taxonomy shared by the digest engine,
// its collaborators, and the retry wrapper.
package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Collaborators wrap these with fmt.Errorf("...: %w", ...) so
// callers can classify failures with errors.Is.
var (
	// ErrDataAccess marks a transient failure reading from an external store.
	ErrDataAccess = errors.New("data access failure")

	// ErrTimeout marks an external call that did not complete in time.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidState marks an operation attempted in a state that does not allow it.
	ErrInvalidState = errors.New("invalid operation state")

	// ErrParse marks a record that could not be repaired into parseable JSON.
	ErrParse = errors.New("parse failure")

	// ErrValidation marks an out-of-range value or an invalid argument.
	ErrValidation = errors.New("validation failure")

	// ErrSystem marks resource exhaustion and similar process-level failures.
	ErrSystem = errors.New("system failure")
)

// Kind classifies a failure for logging and retry decisions.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindDataAccess
	KindParse
	KindValidation
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindDataAccess:
		return "data-access"
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	case KindSystem:
		return "system"
	case KindUnknown:
		return "unknown"
	}

	return "unknown"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// storageHints are the message fragments that mark an invalid-state failure
// as a storage problem worth retrying.
var storageHints = []string{"storage", "database", "store", "connection"}

// Classify maps an error onto its failure kind. A nil error is KindUnknown.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrDataAccess),
		errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindDataAccess
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrSystem):
		return KindSystem
	case errors.Is(err, ErrInvalidState) && mentionsStorage(err):
		return KindDataAccess
	}

	return KindUnknown
}

// Retryable reports whether err belongs to the transient allow-list:
// data access failures, timeouts, and invalid-state failures whose message
// points at the storage layer.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrSystem) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, ErrDataAccess) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return errors.Is(err, ErrInvalidState) && mentionsStorage(err)
}

func mentionsStorage(err error) bool {
	msg := strings.ToLower(err.Error())

	for _, hint := range storageHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}

	return false
}

// ProcessingError is one entry of a run's append-only error log.
type ProcessingError struct {
	Kind    Kind   `json:"kind"    yaml:"kind"`
	Source  string `json:"source"  yaml:"source"`
	Message string `json:"message" yaml:"message"`
	Detail  string `json:"detail"  yaml:"detail"`
	// Record is the zero-based index of the offending record, or -1 when the
	// entry is not tied to a single record.
	Record int `json:"record" yaml:"record"`
}

// Error implements the error interface.
func (pe ProcessingError) Error() string {
	if pe.Detail == "" {
		return fmt.Sprintf("%s: %s: %s", pe.Kind, pe.Source, pe.Message)
	}

	return fmt.Sprintf("%s: %s: %s (%s)", pe.Kind, pe.Source, pe.Message, pe.Detail)
}

// New builds a ProcessingError classified from err.
func New(source string, record int, message string, err error) ProcessingError {
	detail := ""
	if err != nil {
		detail = err.Error()
	}

	return ProcessingError{
		Kind:    Classify(err),
		Source:  source,
		Message: message,
		Detail:  detail,
		Record:  record,
	}
}

// Log is an append-only list of processing errors for one run.
type Log struct {
	entries []ProcessingError
}

// Append records an entry.
func (l *Log) Append(pe ProcessingError) {
	l.entries = append(l.entries, pe)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the recorded entries.
func (l *Log) Entries() []ProcessingError {
	out := make([]ProcessingError, len(l.entries))
	copy(out, l.entries)

	return out
}

// CountByKind returns the number of entries per kind.
func (l *Log) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)

	for _, pe := range l.entries {
		counts[pe.Kind]++
	}

	return counts
}
