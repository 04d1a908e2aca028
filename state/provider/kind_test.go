package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracestate/tracestate/state/event"
)

func TestLayout_Classify(t *testing.T) {
	layout := DefaultLayout()
	layout.Counters = []CounterSpec{{Event: "pmc", Field: "value"}}

	tests := []struct {
		name   string
		event  string
		fields event.Fields
		want   HandlerKind
	}{
		{name: "hip api", event: "hip_api", want: KindAPI},
		{name: "roctx", event: "roctx", want: KindAPI},
		{name: "kernel", event: "compute_kernels_hsa", want: KindKernel},
		{name: "kernel execution activity", event: "hip_activity", fields: event.Fields{"name": "KernelExecution"}, want: KindKernel},
		{name: "copy activity", event: "hip_activity", fields: event.Fields{"name": "CopyDeviceToHost"}, want: KindMemoryCopy},
		{name: "nameless activity", event: "hsa_activity", want: KindMemoryCopy},
		{name: "ops", event: "hcc_ops", want: KindActivity},
		{name: "async copy", event: "async_copy", want: KindMemoryCopy},
		{name: "metadata", event: "gpu_info", want: KindMetadata},
		{name: "function names", event: "hsa_function_name", want: KindFunctionName},
		{name: "flow start", event: "dispatch", want: KindFlowStart},
		{name: "flow end", event: "complete", want: KindFlowEnd},
		{name: "counter", event: "pmc", want: KindCounter},
		{name: "generic begin", event: "step_begin", want: KindGeneric},
		{name: "generic end", event: "stepEnd", want: KindGeneric},
		{name: "unknown", event: "sched_switch", want: KindUnknown},
		{name: "bare suffix", event: "_end", want: KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := event.New(tc.event, 0, tc.fields)
			assert.Equal(t, tc.want, layout.Classify(ev))
		})
	}
}

func TestLayout_SplitPhase(t *testing.T) {
	layout := DefaultLayout()

	tests := []struct {
		in        string
		wantBase  string
		wantPhase Phase
	}{
		{in: "hipMalloc_enter", wantBase: "hipMalloc", wantPhase: PhaseBegin},
		{in: "hipMalloc_exit", wantBase: "hipMalloc", wantPhase: PhaseEnd},
		{in: "opBegin", wantBase: "op", wantPhase: PhaseBegin},
		{in: "hipMalloc", wantBase: "hipMalloc", wantPhase: PhaseComplete},
	}
	for _, tc := range tests {
		base, phase := layout.SplitPhase(tc.in)
		assert.Equal(t, tc.wantBase, base, tc.in)
		assert.Equal(t, tc.wantPhase, phase, tc.in)
	}
}

func TestHandlerKind_StringRoundTrip(t *testing.T) {
	for _, k := range AllKinds() {
		got, err := ParseHandlerKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseHandlerKind("unknown")
	assert.Error(t, err)
	assert.Equal(t, "HandlerKind(99)", HandlerKind(99).String())
}

func TestLayout_APIFamily(t *testing.T) {
	layout := DefaultLayout()
	assert.Equal(t, "hip", layout.apiFamily("hip_api"))
	assert.Equal(t, "hip", layout.apiFamily("hip_function_name"))
	assert.Equal(t, "roctx", layout.apiFamily("roctx"))
}
