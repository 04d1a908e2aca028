// Package analysis runs several state builders over one trace concurrently.
// Each analysis owns a state system fed by its own pass over the event
// source; readers may query any of them while the builds progress.
package analysis

import (
	"fmt"
	"sort"

	"github.com/tracestate/tracestate/state/provider"
)

// Built-in analyses.
const (
	CallStack = "callstack"
	Counters  = "counters"
	Metadata  = "metadata"
)

// analysisKinds maps each analysis to the handlers it runs.
var analysisKinds = map[string][]provider.HandlerKind{
	CallStack: {
		provider.KindAPI, provider.KindGeneric, provider.KindKernel, provider.KindActivity,
		provider.KindMemoryCopy, provider.KindFunctionName, provider.KindFlowStart, provider.KindFlowEnd,
	},
	Counters: {provider.KindCounter},
	Metadata: {provider.KindMetadata},
}

// IsValidAnalysis returns true if name is a built-in analysis.
func IsValidAnalysis(name string) bool {
	_, ok := analysisKinds[name]
	return ok
}

// Names returns the built-in analyses in sorted order.
func Names() []string {
	names := make([]string, 0, len(analysisKinds))
	for name := range analysisKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kinds returns the handlers run by analysis name.
func Kinds(name string) ([]provider.HandlerKind, error) {
	kinds, ok := analysisKinds[name]
	if !ok {
		return nil, fmt.Errorf("unknown analysis %q; valid: %v", name, Names())
	}
	return kinds, nil
}
