package provider

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tracestate/tracestate/state"
	"github.com/tracestate/tracestate/state/dependency"
	"github.com/tracestate/tracestate/state/event"
	"github.com/tracestate/tracestate/state/future"
)

// Attribute names of the lane layout.
const (
	ProcessesAttribute   = "Processes"
	SystemAttribute      = "System"
	CallStackAttribute   = "CallStack"
	QueuesAttribute      = "Queues"
	StreamsAttribute     = "HIP Streams"
	GapAttribute         = "Gap Analysis"
	GPUActivityAttribute = "GPU Activity"
	GPUKernelsAttribute  = "GPU Kernels"
	MemoryAttribute      = "Memory"
	TransfersAttribute   = "Memory Transfers"
	CountersAttribute    = "Counters"
	GPUInfoAttribute     = "GPUInfo"
	DeviceAttribute      = "ThreadsToDevice"

	gapBusy = "Busy"
	gapIdle = "Idle"
)

// launch is a dispatching API call waiting for the device work it enqueued.
type launch struct {
	at        int64
	from      state.Endpoint
	stream    int64
	hasStream bool
	kernel    string
}

type waitKey struct {
	api string
	tid int64
}

// handlers holds everything the event handlers of one builder share.
// Not safe for concurrent use.
type handlers struct {
	layout     *Layout
	ss         *state.StateSystem
	tree       *state.AttributeTree
	sched      future.Handle
	hosts      *HostIDRegistry
	functions  *FunctionTable
	links      *linker
	traceStart int64

	launches   map[int64]launch
	devices    map[int64]int64
	waitBegins map[waitKey]int64
	gapLanes   map[int64]state.Quark
	nested     map[state.Quark][]int64 // ends of the activities pushed on a lane, innermost last
}

func newHandlers(ss *state.StateSystem, layout *Layout, sched future.Handle, links *linker, traceStart int64) *handlers {
	return &handlers{
		layout:     layout,
		ss:         ss,
		tree:       ss.Tree(),
		sched:      sched,
		hosts:      NewHostIDRegistry(ss, traceStart),
		functions:  NewFunctionTable(),
		links:      links,
		traceStart: traceStart,
		launches:   make(map[int64]launch),
		devices:    make(map[int64]int64),
		waitBegins: make(map[waitKey]int64),
		gapLanes:   make(map[int64]state.Quark),
		nested:     make(map[state.Quark][]int64),
	}
}

// handle routes ev to the handler of kind.
func (h *handlers) handle(kind HandlerKind, ev *event.Event) error {
	switch kind {
	case KindAPI:
		return h.handleAPI(ev)
	case KindGeneric:
		return h.handleGeneric(ev)
	case KindKernel:
		return h.handleKernel(ev)
	case KindActivity:
		return h.handleActivity(ev)
	case KindMemoryCopy:
		return h.handleMemoryCopy(ev)
	case KindCounter:
		return h.handleCounters(ev)
	case KindMetadata:
		return h.handleMetadata(ev)
	case KindFunctionName:
		return h.handleFunctionName(ev)
	case KindFlowStart:
		return h.handleFlowStart(ev)
	case KindFlowEnd:
		return h.handleFlowEnd(ev)
	default:
		return nil
	}
}

func (h *handlers) tid(ev *event.Event) int64 {
	tid, _ := ev.Long(h.layout.Fields.TID)
	return tid
}

// endTime returns the end of ev from its end or duration field.
func (h *handlers) endTime(ev *event.Event) (int64, bool, error) {
	if end, ok := ev.Long(h.layout.Fields.End); ok {
		if end < ev.Timestamp {
			return 0, false, malformed(ev, "end %d before start", end)
		}
		return end, true, nil
	}
	if dur, ok := ev.Long(h.layout.Fields.Duration); ok {
		if dur < 0 {
			return 0, false, malformed(ev, "negative duration %d", dur)
		}
		return ev.Timestamp + dur, true, nil
	}
	return 0, false, nil
}

// occupy shows name on lane over [start, end). Activity nested in the
// innermost one on lane is pushed on it and popped at its end. Activity that
// outlives the innermost one, or any overlapping activity when activity lanes
// are enabled, goes to the first free CallStack/<depth> sub-lane.
func (h *handlers) occupy(start, end int64, name string, lane state.Quark) error {
	if !h.layout.ActivityLanes {
		// pops up to start were drained before this event
		ends := h.nested[lane]
		for len(ends) > 0 && ends[len(ends)-1] <= start {
			ends = ends[:len(ends)-1]
		}
		h.nested[lane] = ends
		if len(ends) == 0 || end <= ends[len(ends)-1] {
			if err := h.ss.PushAttribute(start, state.StringValue(name), lane); err != nil {
				return err
			}
			h.nested[lane] = append(ends, end)
			h.sched.Schedule(end, state.NullValue(), lane, future.Pop)
			return nil
		}
	}
	return h.occupyParallel(start, end, name, lane)
}

func (h *handlers) occupyParallel(start, end int64, name string, lane state.Quark) error {
	for depth := 0; ; depth++ {
		sub := h.tree.QuarkRelativeAndAdd(lane, strconv.Itoa(depth))
		if h.ss.QueryOngoing(sub).IsNull() && h.ss.OngoingStartTime(sub) <= start {
			if err := h.ss.ModifyAttribute(start, state.StringValue(name), sub); err != nil {
				return err
			}
			h.sched.Schedule(end, state.NullValue(), sub, future.Modify)
			return nil
		}
	}
}

func (h *handlers) threadLane(tid int64, api string) state.Quark {
	return h.tree.QuarkAbsoluteAndAdd(ProcessesAttribute, SystemAttribute,
		"Thread "+strconv.FormatInt(tid, 10), api, CallStackAttribute)
}

func (h *handlers) handleAPI(ev *event.Event) error {
	tid := h.tid(ev)
	api := strings.ToUpper(ev.Name)
	lane := h.threadLane(tid, api)
	from, err := h.hosts.Endpoint(HostKey{Category: HostThread, Scope: ev.Name, ID: tid}, lane)
	if err != nil {
		return err
	}

	fn, ok := ev.Str(h.layout.Fields.Name)
	if !ok {
		if cid, hasCID := ev.Long(h.layout.Fields.CID); hasCID {
			fn, ok = h.functions.Lookup(h.layout.apiFamily(ev.Name), cid)
		}
	}
	if !ok || fn == "" {
		// a record without a function closes the innermost call
		if h.ss.StackDepth(lane) == 0 {
			return malformed(ev, "no function name and no open call")
		}
		return h.closeCall(ev, api, tid, lane, "", from)
	}
	base, phase := h.layout.SplitPhase(fn)
	if phase == PhaseEnd {
		return h.closeCall(ev, api, tid, lane, base, from)
	}
	return h.openCall(ev, api, tid, lane, base, from)
}

func (h *handlers) handleGeneric(ev *event.Event) error {
	tid := h.tid(ev)
	api := h.layout.GenericLane
	lane := h.threadLane(tid, api)
	from, err := h.hosts.Endpoint(HostKey{Category: HostThread, Scope: api, ID: tid}, lane)
	if err != nil {
		return err
	}
	base, phase := h.layout.SplitPhase(ev.Name)
	if phase == PhaseEnd {
		return h.closeCall(ev, api, tid, lane, base, from)
	}
	return h.openCall(ev, api, tid, lane, base, from)
}

func (h *handlers) openCall(ev *event.Event, api string, tid int64, lane state.Quark, fn string, from state.Endpoint) error {
	end, hasEnd, err := h.endTime(ev)
	if err != nil {
		return err
	}
	if err := h.ss.PushAttribute(ev.Timestamp, state.StringValue(fn), lane); err != nil {
		return err
	}
	if hasEnd {
		h.sched.Schedule(end, state.NullValue(), lane, future.Pop)
	}

	if contains(h.layout.DeviceFunctions, fn) {
		if err := h.setDevice(ev, tid); err != nil {
			return err
		}
	}
	if spec, ok := h.layout.DispatchFunctions[fn]; ok {
		h.dispatch(ev, spec, from)
	}
	if contains(h.layout.WaitFunctions, fn) {
		if hasEnd {
			return h.links.wait(dependency.Wait{Device: h.devices[tid], Begin: ev.Timestamp, End: end, Endpoint: from})
		}
		h.waitBegins[waitKey{api: api, tid: tid}] = ev.Timestamp
	}
	return nil
}

func (h *handlers) closeCall(ev *event.Event, api string, tid int64, lane state.Quark, fn string, from state.Endpoint) error {
	if _, err := h.ss.PopAttribute(ev.Timestamp, lane); err != nil {
		return err
	}
	key := waitKey{api: api, tid: tid}
	begin, waiting := h.waitBegins[key]
	if !waiting || (fn != "" && !contains(h.layout.WaitFunctions, fn)) {
		return nil
	}
	delete(h.waitBegins, key)
	return h.links.wait(dependency.Wait{Device: h.devices[tid], Begin: begin, End: ev.Timestamp, Endpoint: from})
}

// setDevice records the device a thread now targets.
func (h *handlers) setDevice(ev *event.Event, tid int64) error {
	dev, ok := ev.Long(h.layout.Fields.DeviceID)
	if !ok {
		args, _ := ev.Str(h.layout.Fields.Args)
		if dev, ok = ParseDeviceID(args); !ok {
			logrus.Debugf("%s at %d: no device in args %q", ev.Name, ev.Timestamp, args)
			return nil
		}
	}
	h.devices[tid] = dev
	q := h.tree.QuarkAbsoluteAndAdd(DeviceAttribute, strconv.FormatInt(tid, 10))
	return h.ss.ModifyAttribute(ev.Timestamp, state.LongValue(dev), q)
}

// dispatch remembers a call that enqueued device work under a correlation id.
func (h *handlers) dispatch(ev *event.Event, spec DispatchSpec, from state.Endpoint) {
	args, _ := ev.Str(h.layout.Fields.Args)
	corr, ok := ev.Long(h.layout.Fields.CorrelationID)
	if !ok && spec.CorrelationArg != nil {
		corr, ok = ParseNumber(Arg(args, *spec.CorrelationArg))
	}
	if !ok {
		return
	}
	l := launch{at: ev.Timestamp, from: from}
	if s, ok := ev.Long(h.layout.Fields.StreamID); ok {
		l.stream, l.hasStream = s, true
	} else if spec.StreamArg != nil {
		l.hasStream = true
		if l.stream, ok = ParseStream(Arg(args, *spec.StreamArg)); !ok {
			l.stream = h.layout.DefaultStream
		}
	}
	if spec.KernelArg != nil {
		l.kernel = Arg(args, *spec.KernelArg)
	}
	if k, ok := ev.Str(h.layout.Fields.KernelName); ok {
		l.kernel = k
	}
	h.launches[corr] = l
	h.links.dispatch(corr, from, ev.Timestamp)
}

func (h *handlers) handleKernel(ev *event.Event) error {
	f := h.layout.Fields
	gpu, ok := ev.Long(f.GPUID)
	if !ok {
		if gpu, ok = ev.Long(f.DeviceID); !ok {
			return missingField(ev, f.GPUID)
		}
	}
	queue, ok := ev.Long(f.QueueID)
	if !ok {
		return missingField(ev, f.QueueID)
	}
	end, hasEnd, err := h.endTime(ev)
	if err != nil {
		return err
	}
	if !hasEnd {
		return malformed(ev, "missing %s or %s", f.End, f.Duration)
	}
	corr, hasCorr := ev.Long(f.CorrelationID)
	var l launch
	launched := false
	if hasCorr {
		l, launched = h.launches[corr]
		delete(h.launches, corr)
	}
	name := h.kernelName(ev, l)

	gpuName := "GPU " + strconv.FormatInt(gpu, 10)
	gpuScope := strconv.FormatInt(gpu, 10)
	lane := h.tree.QuarkAbsoluteAndAdd(ProcessesAttribute, gpuName, QueuesAttribute,
		"Queue "+strconv.FormatInt(queue, 10), CallStackAttribute)
	to, err := h.hosts.Endpoint(HostKey{Category: HostQueue, Scope: gpuScope, ID: queue}, lane)
	if err != nil {
		return err
	}
	if err := h.occupy(ev.Timestamp, end, name, lane); err != nil {
		return err
	}

	if launched && l.hasStream {
		streamLane := h.tree.QuarkAbsoluteAndAdd(ProcessesAttribute, gpuName, StreamsAttribute,
			"Stream "+strconv.FormatInt(l.stream, 10), CallStackAttribute)
		if _, err := h.hosts.Endpoint(HostKey{Category: HostStream, Scope: gpuScope, ID: l.stream}, streamLane); err != nil {
			return err
		}
		if err := h.occupy(ev.Timestamp, end, name, streamLane); err != nil {
			return err
		}
	}
	if h.layout.GapAnalysis {
		if err := h.markBusy(gpu, gpuName, ev.Timestamp, end); err != nil {
			return err
		}
	}
	if hasCorr {
		if err := h.links.complete(corr, to, ev.Timestamp); err != nil {
			return err
		}
	}
	dispatched := ev.Timestamp
	if launched {
		dispatched = l.at
	}
	return h.links.activity(dependency.Activity{
		Device: gpu, Dispatch: dispatched, End: end, Endpoint: to, CorrelationID: corr,
	})
}

func (h *handlers) kernelName(ev *event.Event, l launch) string {
	if name, ok := ev.Str(h.layout.Fields.KernelName); ok && name != "" {
		return name
	}
	if l.kernel != "" {
		return l.kernel
	}
	if name, ok := ev.Str(h.layout.Fields.Name); ok && name != "" {
		return name
	}
	return ev.Name
}

// markBusy shows the GPU busy over [start, end). Overlapping kernels keep it
// busy until the last one ends.
func (h *handlers) markBusy(gpu int64, gpuName string, start, end int64) error {
	lane, ok := h.gapLanes[gpu]
	if !ok {
		lane = h.tree.QuarkAbsoluteAndAdd(ProcessesAttribute, gpuName, GapAttribute, CallStackAttribute)
		h.gapLanes[gpu] = lane
		if err := h.ss.ModifyAttribute(h.traceStart, state.StringValue(gapIdle), lane); err != nil {
			return err
		}
	}
	if err := h.ss.PushAttribute(start, state.StringValue(gapBusy), lane); err != nil {
		return err
	}
	h.sched.Schedule(end, state.NullValue(), lane, future.Pop)
	return nil
}

func (h *handlers) handleActivity(ev *event.Event) error {
	end, hasEnd, err := h.endTime(ev)
	if err != nil {
		return err
	}
	if !hasEnd {
		return malformed(ev, "missing %s or %s", h.layout.Fields.End, h.layout.Fields.Duration)
	}
	lane := h.tree.QuarkAbsoluteAndAdd(ProcessesAttribute, GPUActivityAttribute, GPUKernelsAttribute, CallStackAttribute)
	return h.occupy(ev.Timestamp, end, h.kernelName(ev, launch{}), lane)
}

func (h *handlers) handleMemoryCopy(ev *event.Event) error {
	lane := h.tree.QuarkAbsoluteAndAdd(ProcessesAttribute, MemoryAttribute, TransfersAttribute, CallStackAttribute)
	to, err := h.hosts.Endpoint(HostKey{Category: HostMemory}, lane)
	if err != nil {
		return err
	}
	name, ok := ev.Str(h.layout.Fields.Name)
	if !ok || name == "" {
		if contains(h.layout.ActivityEvents, ev.Name) {
			// an activity record without an operation resets the lane
			return h.ss.ModifyAttribute(ev.Timestamp, state.NullValue(), lane)
		}
		name = ev.Name
	}
	base, phase := h.layout.SplitPhase(name)
	if phase == PhaseEnd {
		_, err := h.ss.PopAttribute(ev.Timestamp, lane)
		return err
	}
	end, hasEnd, err := h.endTime(ev)
	if err != nil {
		return err
	}
	if err := h.ss.PushAttribute(ev.Timestamp, state.StringValue(base), lane); err != nil {
		return err
	}
	if hasEnd {
		h.sched.Schedule(end, state.NullValue(), lane, future.Pop)
	}
	if corr, ok := ev.Long(h.layout.Fields.CorrelationID); ok {
		delete(h.launches, corr)
		return h.links.complete(corr, to, ev.Timestamp)
	}
	return nil
}

func (h *handlers) handleCounters(ev *event.Event) error {
	for _, spec := range h.layout.countersFor(ev.Name) {
		if err := h.applyCounter(ev, spec); err != nil {
			return err
		}
	}
	return nil
}

func (h *handlers) applyCounter(ev *event.Event, spec CounterSpec) error {
	group := "0"
	if spec.Group != "" {
		g, ok := ev.Long(spec.Group)
		if !ok {
			return missingField(ev, spec.Group)
		}
		group = strconv.FormatInt(g, 10)
	}
	q := h.tree.QuarkAbsoluteAndAdd(CountersAttribute, group, spec.AttributeName())
	if !spec.Cumulative {
		delta, ok := ev.Long(spec.Field)
		if !ok {
			return malformed(ev, "delta counter %s is not an integer", spec.Field)
		}
		return h.ss.IncrementAttribute(ev.Timestamp, delta, q)
	}
	if v, ok := ev.Long(spec.Field); ok {
		return h.ss.ModifyAttribute(ev.Timestamp, state.LongValue(v), q)
	}
	if v, ok := ev.Double(spec.Field); ok {
		return h.ss.ModifyAttribute(ev.Timestamp, state.DoubleValue(v), q)
	}
	return missingField(ev, spec.Field)
}

// handleMetadata writes every field of a device description at trace start.
func (h *handlers) handleMetadata(ev *event.Event) error {
	f := h.layout.Fields
	idField := f.GPUID
	gpu, ok := ev.Long(idField)
	if !ok {
		idField = f.DeviceID
		if gpu, ok = ev.Long(idField); !ok {
			return missingField(ev, f.GPUID)
		}
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		if k != idField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	gpuQuark := h.tree.QuarkAbsoluteAndAdd(GPUInfoAttribute, strconv.FormatInt(gpu, 10))
	for _, k := range keys {
		q := h.tree.QuarkRelativeAndAdd(gpuQuark, k)
		if err := h.ss.ModifyAttribute(h.traceStart, metadataValue(ev, k), q); err != nil {
			return err
		}
	}
	return nil
}

func metadataValue(ev *event.Event, key string) state.Value {
	if v, ok := ev.Long(key); ok {
		return state.LongValue(v)
	}
	if v, ok := ev.Double(key); ok {
		return state.DoubleValue(v)
	}
	if v, ok := ev.Str(key); ok {
		return state.StringValue(v)
	}
	raw, _ := ev.Field(key)
	return state.StringValue(fmt.Sprint(raw))
}

func (h *handlers) handleFunctionName(ev *event.Event) error {
	cid, ok := ev.Long(h.layout.Fields.CID)
	if !ok {
		return missingField(ev, h.layout.Fields.CID)
	}
	name, ok := ev.Str(h.layout.Fields.Name)
	if !ok || name == "" {
		return missingField(ev, h.layout.Fields.Name)
	}
	h.functions.Add(h.layout.apiFamily(ev.Name), cid, name)
	return nil
}

func (h *handlers) handleFlowStart(ev *event.Event) error {
	corr, ok := ev.Long(h.layout.Fields.CorrelationID)
	if !ok {
		return missingField(ev, h.layout.Fields.CorrelationID)
	}
	from, err := h.flowEndpoint(ev)
	if err != nil {
		return err
	}
	h.links.dispatch(corr, from, ev.Timestamp)
	return nil
}

func (h *handlers) handleFlowEnd(ev *event.Event) error {
	corr, ok := ev.Long(h.layout.Fields.CorrelationID)
	if !ok {
		return missingField(ev, h.layout.Fields.CorrelationID)
	}
	to, err := h.flowEndpoint(ev)
	if err != nil {
		return err
	}
	return h.links.complete(corr, to, ev.Timestamp)
}

// flowEndpoint is the queue of ev when it names one, its thread otherwise.
func (h *handlers) flowEndpoint(ev *event.Event) (state.Endpoint, error) {
	f := h.layout.Fields
	gpu, hasGPU := ev.Long(f.GPUID)
	queue, hasQueue := ev.Long(f.QueueID)
	if hasGPU && hasQueue {
		lane := h.tree.QuarkAbsoluteAndAdd(ProcessesAttribute, "GPU "+strconv.FormatInt(gpu, 10), QueuesAttribute,
			"Queue "+strconv.FormatInt(queue, 10), CallStackAttribute)
		return h.hosts.Endpoint(HostKey{Category: HostQueue, Scope: strconv.FormatInt(gpu, 10), ID: queue}, lane)
	}
	tid := h.tid(ev)
	lane := h.threadLane(tid, h.layout.GenericLane)
	return h.hosts.Endpoint(HostKey{Category: HostThread, Scope: h.layout.GenericLane, ID: tid}, lane)
}
