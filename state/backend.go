package state

import "fmt"

// AttributeRecord describes one node of the attribute tree for persistence.
type AttributeRecord struct {
	Quark  Quark
	Parent Quark
	Name   string
}

// HistoryInfo is handed to the backend once the history is closed.
type HistoryInfo struct {
	StartTime  int64
	EndTime    int64
	Attributes []AttributeRecord
}

// Backend receives committed intervals. Intervals are append-only: once handed
// to Append an interval is never revised, so write-once storage formats work.
type Backend interface {
	Append(iv Interval) error
	Finish(info HistoryInfo) error
	Close() error
}

// BackendConfig configures a persistent backend.
type BackendConfig struct {
	Path     string // directory of the store; ignored when InMemory
	InMemory bool
}

// NewPersistentBackendFunc is set by state/history's init().
// Import _ "github.com/tracestate/tracestate/state/history" to register it.
var NewPersistentBackendFunc func(cfg BackendConfig) (Backend, error)

// NewPersistentBackend opens the registered persistent backend.
func NewPersistentBackend(cfg BackendConfig) (Backend, error) {
	if NewPersistentBackendFunc == nil {
		return nil, fmt.Errorf("no persistent backend registered: import state/history")
	}
	return NewPersistentBackendFunc(cfg)
}

// attributeRecords snapshots the tree for HistoryInfo.
func attributeRecords(tree *AttributeTree) []AttributeRecord {
	n := tree.NumAttributes()
	records := make([]AttributeRecord, 0, n)
	for q := Quark(0); int(q) < n; q++ {
		records = append(records, AttributeRecord{Quark: q, Parent: tree.Parent(q), Name: tree.Name(q)})
	}
	return records
}
