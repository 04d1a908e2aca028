package state

import (
	"fmt"
	"strconv"
)

// ValueKind discriminates the Value union.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindInt
	KindLong
	KindDouble
	KindString
	KindEdge
)

var valueKindNames = map[ValueKind]string{
	KindNull:   "null",
	KindInt:    "int",
	KindLong:   "long",
	KindDouble: "double",
	KindString: "string",
	KindEdge:   "edge",
}

func (k ValueKind) String() string {
	if name, ok := valueKindNames[k]; ok {
		return name
	}
	return "ValueKind(" + strconv.Itoa(int(k)) + ")"
}

// Endpoint identifies one side of an edge: a host (thread, queue, stream, memory)
// and the host id assigned to it by the builder.
type Endpoint struct {
	Host string
	ID   int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s#%d", e.Host, e.ID)
}

// Edge is a causal dependency between two endpoints.
type Edge struct {
	ID     int32
	Source Endpoint
	Dest   Endpoint
}

// Value is the immutable value of an attribute over an interval.
// Values are comparable with ==; two values are equal when kind and payload match.
type Value struct {
	kind ValueKind
	i    int64
	d    float64
	s    string
	edge Edge
}

// NullValue returns the null value. The zero Value is also null.
func NullValue() Value { return Value{} }

func IntValue(v int32) Value { return Value{kind: KindInt, i: int64(v)} }

func LongValue(v int64) Value { return Value{kind: KindLong, i: v} }

func DoubleValue(v float64) Value { return Value{kind: KindDouble, d: v} }

func StringValue(v string) Value { return Value{kind: KindString, s: v} }

func EdgeValue(e Edge) Value { return Value{kind: KindEdge, edge: e} }

// Kind returns the discriminant.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int returns the payload of an int value.
func (v Value) Int() (int32, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return int32(v.i), true
}

// Long returns the payload of an int or long value.
func (v Value) Long() (int64, bool) {
	if v.kind != KindInt && v.kind != KindLong {
		return 0, false
	}
	return v.i, true
}

// Double returns the payload of a double value.
func (v Value) Double() (float64, bool) {
	if v.kind != KindDouble {
		return 0, false
	}
	return v.d, true
}

// Str returns the payload of a string value.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Edge returns the payload of an edge value.
func (v Value) Edge() (Edge, bool) {
	if v.kind != KindEdge {
		return Edge{}, false
	}
	return v.edge, true
}

func (v Value) String() string {
	switch v.kind {
	case KindInt, KindLong:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.d, 'g', -1, 64)
	case KindString:
		return v.s
	case KindEdge:
		return fmt.Sprintf("edge %d: %s -> %s", v.edge.ID, v.edge.Source, v.edge.Dest)
	default:
		return "null"
	}
}
