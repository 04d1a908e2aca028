// Package trace records what a build pass dropped or inferred: skipped events,
// rejected mutations and emitted edges.
// This package has no dependencies on the store; it stores pure data types.
package trace

// SkipRecord captures an event the builder did not apply.
type SkipRecord struct {
	Event  string
	Clock  int64
	Kind   string // handler kind the event was classified as
	Reason string
}

// RejectionRecord captures a mutation the store refused, typically an ordering violation.
type RejectionRecord struct {
	Path   string
	Clock  int64
	Op     string
	Reason string
}

// EdgeRecord captures a dependency edge written to an edge lane.
type EdgeRecord struct {
	ID     int32
	Source string
	Dest   string
	Start  int64
	End    int64
	Lane   string
	Origin string // "correlation" or "wait"
}
