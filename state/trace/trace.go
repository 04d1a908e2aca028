package trace

// TraceLevel controls the verbosity of build tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelEvents captures skipped events, rejected mutations and edges.
	TraceLevelEvents TraceLevel = "events"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelEvents: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level      TraceLevel
	MaxRecords int // per record kind; 0 means unbounded
}

// Enabled reports whether records should be collected.
func (c TraceConfig) Enabled() bool {
	return c.Level == TraceLevelEvents
}

// BuildTrace collects records during one build pass.
type BuildTrace struct {
	Config     TraceConfig
	Skips      []SkipRecord
	Rejections []RejectionRecord
	Edges      []EdgeRecord
	Dropped    int // records not kept because of MaxRecords
}

// NewBuildTrace creates a BuildTrace ready for recording.
func NewBuildTrace(config TraceConfig) *BuildTrace {
	return &BuildTrace{
		Config:     config,
		Skips:      make([]SkipRecord, 0),
		Rejections: make([]RejectionRecord, 0),
		Edges:      make([]EdgeRecord, 0),
	}
}

func (bt *BuildTrace) full(n int) bool {
	if bt.Config.MaxRecords > 0 && n >= bt.Config.MaxRecords {
		bt.Dropped++
		return true
	}
	return false
}

// RecordSkip appends a skipped-event record.
func (bt *BuildTrace) RecordSkip(record SkipRecord) {
	if bt.full(len(bt.Skips)) {
		return
	}
	bt.Skips = append(bt.Skips, record)
}

// RecordRejection appends a rejected-mutation record.
func (bt *BuildTrace) RecordRejection(record RejectionRecord) {
	if bt.full(len(bt.Rejections)) {
		return
	}
	bt.Rejections = append(bt.Rejections, record)
}

// RecordEdge appends an edge record.
func (bt *BuildTrace) RecordEdge(record EdgeRecord) {
	if bt.full(len(bt.Edges)) {
		return
	}
	bt.Edges = append(bt.Edges, record)
}
