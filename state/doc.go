// Package state provides the attribute state history at the core of tracestate.
//
// # Reading Guide
//
// Start with these files:
//   - tree.go: the attribute tree; every attribute is a quark (a small integer)
//   - value.go: the value union stored in intervals (null, int, long, double, string, edge)
//   - statesystem.go: the builder-side mutations (modify, push, pop, remove, increment)
//   - query.go: point, full-state and range queries over the committed history
//
// # Architecture
//
// The state package defines the store and the Backend contract; the rest of the
// engine lives in sub-packages:
//   - state/future/: future-event scheduler for mutations known ahead of time
//   - state/event/: the input event model and replayable sources
//   - state/provider/: event classification and the handlers that mutate the store
//   - state/dependency/: edge lanes and correlation matching
//   - state/history/: persisted, append-only history backend
//   - state/trace/: build trace of skipped events and rejected mutations
//   - state/analysis/: runs several independent builders over one source
//
// state/history registers itself through init() by setting the package-level
// factory variable NewPersistentBackendFunc.
//
// # Time model
//
// Timestamps are int64 nanoseconds. Intervals are half-open [Start, End) and the
// committed intervals of one attribute tile the range [StartTime, CurrentEndTime]
// without gaps. Each attribute only accepts writes at or after its ongoing start.
package state
