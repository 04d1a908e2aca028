// Package event defines the structured trace events consumed by the builders
// and the replayable sources they are read from.
package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Fields holds the payload of an event. Values are integers, floats, strings,
// nested arrays or nil, as decoded from the source.
type Fields map[string]any

// Event is one timestamped record of the trace stream.
type Event struct {
	Name      string
	Timestamp int64 // nanoseconds
	Fields    Fields
}

// New creates an event. A nil fields map is replaced by an empty one.
func New(name string, ts int64, fields Fields) *Event {
	if fields == nil {
		fields = Fields{}
	}
	return &Event{Name: name, Timestamp: ts, Fields: fields}
}

func (e *Event) String() string {
	return fmt.Sprintf("%s@%d", e.Name, e.Timestamp)
}

// Has reports whether the field is present and non-nil.
func (e *Event) Has(key string) bool {
	v, ok := e.Fields[key]
	return ok && v != nil
}

// Field returns the raw value of a field.
func (e *Event) Field(key string) (any, bool) {
	v, ok := e.Fields[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Long returns an integer field. Integral floats and decimal strings are accepted.
func (e *Event) Long(key string) (int64, bool) {
	v, ok := e.Field(key)
	if !ok {
		return 0, false
	}
	return toLong(v)
}

// Int is Long narrowed to int.
func (e *Event) Int(key string) (int, bool) {
	v, ok := e.Long(key)
	if !ok || v > math.MaxInt || v < math.MinInt {
		return 0, false
	}
	return int(v), true
}

// Double returns a numeric field as float64.
func (e *Event) Double(key string) (float64, bool) {
	v, ok := e.Field(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	if l, ok := toLong(v); ok {
		return float64(l), true
	}
	return 0, false
}

// Str returns a string field.
func (e *Event) Str(key string) (string, bool) {
	v, ok := e.Field(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Array returns a nested array field.
func (e *Event) Array(key string) ([]any, bool) {
	v, ok := e.Field(key)
	if !ok {
		return nil, false
	}
	a, ok := v.([]any)
	return a, ok
}

func toLong(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		i, err := x.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(x, 10, 64)
		return i, err == nil
	}
	return 0, false
}
