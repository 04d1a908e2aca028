// Package dependency records causal edges between hosts (threads, queues,
// streams) as intervals on reusable lanes of the Edges attribute.
package dependency

import (
	"errors"
	"fmt"
	"strconv"

	"fortio.org/safecast"
	"github.com/sirupsen/logrus"

	"github.com/tracestate/tracestate/state"
	"github.com/tracestate/tracestate/state/future"
)

// EdgesAttribute is the root attribute holding the edge lanes.
const EdgesAttribute = "Edges"

// ErrEmptyEdge is returned for an edge that starts and ends at the same time.
// Such an edge would hold no interval, so it is not recorded.
var ErrEmptyEdge = errors.New("edge has zero length")

// Tracker places edges on the first free lane under Edges.
// A lane is free for an edge starting at t when the last edge placed on it
// ended at or before t.
type Tracker struct {
	ss     *state.StateSystem
	sched  future.Handle // nil writes every bound immediately
	root   state.Quark
	lanes  []state.Quark
	busy   []int64 // end of the last edge of each lane
	nextID int32
	count  int
}

// NewTracker creates a tracker writing into ss. Edge bounds later than the
// store's current end time go through sched, so the history never runs ahead
// of the event stream; a nil sched writes them at once.
func NewTracker(ss *state.StateSystem, sched future.Handle) *Tracker {
	return &Tracker{
		ss:    ss,
		sched: sched,
		root:  ss.Tree().QuarkAbsoluteAndAdd(EdgesAttribute),
	}
}

// EdgeID narrows a correlation id to an edge id. Ids that do not fit in
// int32 get a locally unique negative id instead.
func (t *Tracker) EdgeID(correlationID int64) int32 {
	id, err := safecast.Conv[int32](correlationID)
	if err != nil {
		t.nextID--
		logrus.Debugf("correlation id %d out of edge id range, using %d", correlationID, t.nextID)
		return t.nextID
	}
	return id
}

// RecordDependency writes the edge src -> dst over [start, end) and returns its lane.
func (t *Tracker) RecordDependency(src, dst state.Endpoint, start, end int64, id int32) (state.Quark, error) {
	if end < start {
		return state.InvalidQuark, fmt.Errorf("edge %d ends at %d before it starts at %d", id, end, start)
	}
	if end == start {
		return state.InvalidQuark, fmt.Errorf("edge %d at %d: %w", id, start, ErrEmptyEdge)
	}
	i := t.freeLane(start)
	lane := t.lanes[i]
	edge := state.Edge{ID: id, Source: src, Dest: dst}
	if err := t.write(start, state.EdgeValue(edge), lane); err != nil {
		return state.InvalidQuark, fmt.Errorf("edge %d on lane %s: %w", id, t.ss.Tree().Name(lane), err)
	}
	if err := t.write(end, state.NullValue(), lane); err != nil {
		return state.InvalidQuark, fmt.Errorf("closing edge %d on lane %s: %w", id, t.ss.Tree().Name(lane), err)
	}
	t.busy[i] = end
	t.count++
	return lane, nil
}

func (t *Tracker) write(at int64, v state.Value, lane state.Quark) error {
	if t.sched != nil && at > t.ss.CurrentEndTime() {
		t.sched.Schedule(at, v, lane, future.Modify)
		return nil
	}
	return t.ss.ModifyAttribute(at, v, lane)
}

// Count returns the number of edges recorded.
func (t *Tracker) Count() int { return t.count }

func (t *Tracker) freeLane(start int64) int {
	for i, end := range t.busy {
		if end <= start {
			return i
		}
	}
	lane := t.ss.Tree().QuarkRelativeAndAdd(t.root, strconv.Itoa(len(t.lanes)))
	t.lanes = append(t.lanes, lane)
	t.busy = append(t.busy, start)
	return len(t.lanes) - 1
}

// LaneName returns the path of an edge lane, e.g. "Edges/0".
func (t *Tracker) LaneName(lane state.Quark) string { return t.ss.Tree().FullPath(lane) }
