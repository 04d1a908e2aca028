package state

import "fmt"

// Interval is the value of one attribute over the half-open range [Start, End).
type Interval struct {
	Quark Quark
	Start int64
	End   int64
	Value Value
}

// Contains reports whether t falls inside [Start, End).
func (iv Interval) Contains(t int64) bool {
	return t >= iv.Start && t < iv.End
}

// Intersects reports whether the interval overlaps the closed window [start, end].
func (iv Interval) Intersects(start, end int64) bool {
	return iv.Start <= end && (iv.End > start || iv.Start == start)
}

// Duration returns End - Start.
func (iv Interval) Duration() int64 {
	return iv.End - iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d, %d) q=%d %s", iv.Start, iv.End, iv.Quark, iv.Value)
}
