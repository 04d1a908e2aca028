package provider

import (
	"fmt"
	"strings"

	"github.com/tracestate/tracestate/state/event"
)

// HandlerKind is the closed set of event handlers.
type HandlerKind int

const (
	KindUnknown HandlerKind = iota
	KindAPI
	KindGeneric
	KindKernel
	KindActivity
	KindMemoryCopy
	KindCounter
	KindMetadata
	KindFunctionName
	KindFlowStart
	KindFlowEnd
)

var handlerKindNames = map[HandlerKind]string{
	KindUnknown:      "unknown",
	KindAPI:          "api",
	KindGeneric:      "generic",
	KindKernel:       "kernel",
	KindActivity:     "activity",
	KindMemoryCopy:   "memcopy",
	KindCounter:      "counter",
	KindMetadata:     "metadata",
	KindFunctionName: "function-name",
	KindFlowStart:    "flow-start",
	KindFlowEnd:      "flow-end",
}

func (k HandlerKind) String() string {
	if name, ok := handlerKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("HandlerKind(%d)", int(k))
}

// AllKinds returns every handler kind except KindUnknown.
func AllKinds() []HandlerKind {
	return []HandlerKind{
		KindAPI, KindGeneric, KindKernel, KindActivity, KindMemoryCopy,
		KindCounter, KindMetadata, KindFunctionName, KindFlowStart, KindFlowEnd,
	}
}

// ParseHandlerKind returns the kind with the given name.
func ParseHandlerKind(name string) (HandlerKind, error) {
	for k, n := range handlerKindNames {
		if n == name && k != KindUnknown {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown handler kind %q", name)
}

// Phase tells whether an event opens or closes a call.
type Phase int

const (
	PhaseComplete Phase = iota // single record, end known from fields or absent
	PhaseBegin
	PhaseEnd
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SplitPhase strips a begin or end suffix from name.
func (l *Layout) SplitPhase(name string) (string, Phase) {
	for _, suffix := range l.BeginSuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return strings.TrimSuffix(name, suffix), PhaseBegin
		}
	}
	for _, suffix := range l.EndSuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return strings.TrimSuffix(name, suffix), PhaseEnd
		}
	}
	return name, PhaseComplete
}

// Classify returns the handler for ev. Activity events are discriminated by
// their name field before any attribute is resolved.
func (l *Layout) Classify(ev *event.Event) HandlerKind {
	name := ev.Name
	switch {
	case contains(l.MetadataEvents, name):
		return KindMetadata
	case l.FunctionNameSuffix != "" && strings.HasSuffix(name, l.FunctionNameSuffix):
		return KindFunctionName
	case contains(l.APIEvents, name):
		return KindAPI
	case contains(l.KernelEvents, name):
		return KindKernel
	case contains(l.ActivityEvents, name):
		if op, ok := ev.Str(l.Fields.Name); ok && contains(l.KernelActivityNames, op) {
			return KindKernel
		}
		return KindMemoryCopy
	case contains(l.OpsEvents, name):
		return KindActivity
	case contains(l.CopyEvents, name):
		return KindMemoryCopy
	case contains(l.FlowStartEvents, name):
		return KindFlowStart
	case contains(l.FlowEndEvents, name):
		return KindFlowEnd
	}
	if len(l.countersFor(name)) > 0 {
		return KindCounter
	}
	if _, phase := l.SplitPhase(name); phase != PhaseComplete {
		return KindGeneric
	}
	return KindUnknown
}

// countersFor returns the counter specs reading fields of events named name.
func (l *Layout) countersFor(name string) []CounterSpec {
	var specs []CounterSpec
	for _, c := range l.Counters {
		if c.Event == name {
			specs = append(specs, c)
		}
	}
	return specs
}

// apiFamily reduces an API event or function-name table event to the key
// shared by both, e.g. hip_api and hip_function_name both give "hip".
func (l *Layout) apiFamily(name string) string {
	if l.FunctionNameSuffix != "" && strings.HasSuffix(name, l.FunctionNameSuffix) {
		return strings.TrimSuffix(name, l.FunctionNameSuffix)
	}
	return strings.TrimSuffix(name, "_api")
}
