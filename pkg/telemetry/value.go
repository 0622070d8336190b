package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/teledigest/pkg/faults"
)

// unixMillisCutoff separates epoch seconds from epoch milliseconds: no
// realistic seconds value exceeds it before the year 5138.
const unixMillisCutoff = 1e11

// errTrailingData is returned when a document has content after its first value.
var errTrailingData = errors.New("trailing data after document")

// Value wraps one decoded JSON value. Accessors never fail: an absent or
// mistyped value reports ok == false, and navigating through one yields
// another absent Value.
type Value struct {
	raw any
}

// Decode strictly parses text into a Value. Numbers keep their literal form so
// integer fields do not pass through float64.
func Decode(text string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var raw any

	decodeErr := dec.Decode(&raw)
	if decodeErr != nil {
		return Value{}, fmt.Errorf("%w: %w", faults.ErrParse, decodeErr)
	}

	_, tokenErr := dec.Token()
	if !errors.Is(tokenErr, io.EOF) {
		return Value{}, fmt.Errorf("%w: %w", faults.ErrParse, errTrailingData)
	}

	return Value{raw: raw}, nil
}

// Of wraps an already decoded value.
func Of(raw any) Value {
	return Value{raw: raw}
}

// Exists reports whether the value is present and not JSON null.
func (v Value) Exists() bool {
	return v.raw != nil
}

// IsObject reports whether the value is a JSON object.
func (v Value) IsObject() bool {
	_, ok := v.raw.(map[string]any)

	return ok
}

// IsArray reports whether the value is a JSON array.
func (v Value) IsArray() bool {
	_, ok := v.raw.([]any)

	return ok
}

// Get returns the member key of an object.
func (v Value) Get(key string) Value {
	obj, ok := v.raw.(map[string]any)
	if !ok {
		return Value{}
	}

	return Value{raw: obj[key]}
}

// Path follows a chain of object keys.
func (v Value) Path(keys ...string) Value {
	cur := v

	for _, key := range keys {
		cur = cur.Get(key)
	}

	return cur
}

// First returns the first present member among keys.
func (v Value) First(keys ...string) Value {
	for _, key := range keys {
		member := v.Get(key)
		if member.Exists() {
			return member
		}
	}

	return Value{}
}

// Items returns the elements of an array, or nil.
func (v Value) Items() []Value {
	arr, ok := v.raw.([]any)
	if !ok {
		return nil
	}

	out := make([]Value, len(arr))
	for i, item := range arr {
		out[i] = Value{raw: item}
	}

	return out
}

// Float reads a finite number.
func (v Value) Float() (float64, bool) {
	var f float64

	switch num := v.raw.(type) {
	case json.Number:
		parsed, err := num.Float64()
		if err != nil {
			return 0, false
		}

		f = parsed
	case float64:
		f = num
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}

// Int reads an integral number. Fractional values are rounded to the nearest integer.
func (v Value) Int() (int64, bool) {
	if num, ok := v.raw.(json.Number); ok {
		i, err := num.Int64()
		if err == nil {
			return i, true
		}
	}

	f, ok := v.Float()
	if !ok || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}

	return int64(math.Round(f)), true
}

// Text reads a string.
func (v Value) Text() (string, bool) {
	s, ok := v.raw.(string)

	return s, ok
}

// Bool reads a boolean.
func (v Value) Bool() (bool, bool) {
	b, ok := v.raw.(bool)

	return b, ok
}

// Time reads an RFC 3339 string or an epoch number (seconds or milliseconds).
func (v Value) Time() (time.Time, bool) {
	if s, ok := v.Text(); ok {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			ts, err := time.Parse(layout, s)
			if err == nil {
				return ts.UTC(), true
			}
		}

		return time.Time{}, false
	}

	epoch, ok := v.Int()
	if !ok || epoch <= 0 {
		return time.Time{}, false
	}

	if epoch >= unixMillisCutoff {
		return time.UnixMilli(epoch).UTC(), true
	}

	return time.Unix(epoch, 0).UTC(), true
}

// Optional is a value that may be absent.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some returns a present Optional.
func Some[T any](value T) Optional[T] {
	return Optional[T]{Value: value, Valid: true}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// Or returns the value, or def when absent.
func (o Optional[T]) Or(def T) T {
	if o.Valid {
		return o.Value
	}

	return def
}

func optFloat(v Value) Optional[float64] {
	f, ok := v.Float()

	return Optional[float64]{Value: f, Valid: ok}
}

func optText(v Value) Optional[string] {
	s, ok := v.Text()

	return Optional[string]{Value: s, Valid: ok}
}

func optBool(v Value) Optional[bool] {
	b, ok := v.Bool()

	return Optional[bool]{Value: b, Valid: ok}
}
