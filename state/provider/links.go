package provider

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/tracestate/tracestate/state"
	"github.com/tracestate/tracestate/state/dependency"
	"github.com/tracestate/tracestate/state/future"
	"github.com/tracestate/tracestate/state/trace"
)

const (
	originCorrelation = "correlation"
	originWait        = "wait"
)

// linker turns correlated dispatch/complete pairs and blocking waits into
// edges on the Edges lanes.
type linker struct {
	tracker    *dependency.Tracker
	correlator *dependency.Correlator
	waits      *dependency.WaitMatcher // nil when wait dependencies are off
	bt         *trace.BuildTrace       // nil when tracing is off
	analysis   string
}

func newLinker(ss *state.StateSystem, layout *Layout, sched future.Handle, bt *trace.BuildTrace, analysis string) *linker {
	l := &linker{
		tracker:    dependency.NewTracker(ss, sched),
		correlator: dependency.NewCorrelator(),
		bt:         bt,
		analysis:   analysis,
	}
	if layout.WaitDependencies {
		l.waits = dependency.NewWaitMatcher(layout.WaitHorizon)
	}
	return l
}

func (l *linker) dispatch(id int64, from state.Endpoint, at int64) {
	l.correlator.Dispatch(id, from, at)
}

func (l *linker) complete(id int64, to state.Endpoint, at int64) error {
	m, ok := l.correlator.Complete(id, to, at)
	if !ok {
		logrus.Debugf("[%s] completion %d at %d has no dispatch", l.analysis, id, at)
		return nil
	}
	return l.record(m, originCorrelation)
}

func (l *linker) activity(a dependency.Activity) error {
	if l.waits == nil {
		return nil
	}
	for _, m := range l.waits.AddActivity(a) {
		if err := l.record(m, originWait); err != nil {
			return err
		}
	}
	return nil
}

func (l *linker) wait(w dependency.Wait) error {
	if l.waits == nil {
		return nil
	}
	for _, m := range l.waits.AddWait(w) {
		if err := l.record(m, originWait); err != nil {
			return err
		}
	}
	return nil
}

func (l *linker) prune(now int64) {
	if l.waits != nil {
		l.waits.Prune(now)
	}
}

func (l *linker) record(m dependency.Match, origin string) error {
	id := l.tracker.EdgeID(m.ID)
	lane, err := l.tracker.RecordDependency(m.Source, m.Dest, m.Start, m.End, id)
	if errors.Is(err, dependency.ErrEmptyEdge) {
		logrus.Debugf("[%s] dropped %s edge: %v", l.analysis, origin, err)
		return nil
	}
	if err != nil {
		return err
	}
	edgesTotal.WithLabelValues(l.analysis, origin).Inc()
	if l.bt != nil {
		l.bt.RecordEdge(trace.EdgeRecord{
			ID:     id,
			Source: m.Source.String(),
			Dest:   m.Dest.String(),
			Start:  m.Start,
			End:    m.End,
			Lane:   l.tracker.LaneName(lane),
			Origin: origin,
		})
	}
	return nil
}
