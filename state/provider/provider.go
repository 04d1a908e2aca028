// Package provider turns trace events into state: it classifies each event
// into one handler kind and applies the handler's mutations, deferring those
// whose time lies ahead of the stream to a future.Scheduler.
package provider

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tracestate/tracestate/state"
	"github.com/tracestate/tracestate/state/event"
	"github.com/tracestate/tracestate/state/future"
	"github.com/tracestate/tracestate/state/trace"
)

// Options configures a Provider.
type Options struct {
	ID    string        // analysis id, used in logs and metric labels
	Kinds []HandlerKind // handlers to run; nil runs all of them
	Trace trace.TraceConfig
}

// Stats counts what a provider did with the events it was given.
type Stats struct {
	Events   int // events given to at least one handler
	Ignored  int // unknown kinds or kinds this analysis does not run
	Skipped  int // malformed events
	Rejected int // mutations the store refused
	Edges    int
	Hosts    int
}

// Provider feeds one state system from one event stream.
// Events must be given in non-decreasing timestamp order. Not safe for concurrent use.
type Provider struct {
	id       string
	ss       *state.StateSystem
	layout   *Layout
	kinds    map[HandlerKind]bool
	sched    *future.Scheduler
	handlers *handlers
	links    *linker
	bt       *trace.BuildTrace

	lastTime int64
	started  bool
	stats    Stats
}

// New creates a provider writing into ss. A nil layout means DefaultLayout.
func New(ss *state.StateSystem, layout *Layout, opts Options) (*Provider, error) {
	if ss == nil {
		return nil, fmt.Errorf("provider: state system must not be nil")
	}
	if layout == nil {
		layout = DefaultLayout()
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	kinds := opts.Kinds
	if kinds == nil {
		kinds = AllKinds()
	}
	enabled := make(map[HandlerKind]bool, len(kinds))
	for _, k := range kinds {
		if k == KindUnknown {
			return nil, fmt.Errorf("provider: %s is not a runnable handler kind", k)
		}
		enabled[k] = true
	}

	var bt *trace.BuildTrace
	if opts.Trace.Enabled() {
		bt = trace.NewBuildTrace(opts.Trace)
	}
	p := &Provider{
		id:       opts.ID,
		ss:       ss,
		layout:   layout,
		kinds:    enabled,
		bt:       bt,
		lastTime: ss.StartTime(),
	}
	p.sched = future.NewScheduler(ss)
	p.sched.OnReject = func(ev future.Event, err error) {
		p.reject(ev.Quark, ev.Time, ev.Kind.String(), err)
	}
	p.links = newLinker(ss, layout, p.sched, bt, opts.ID)
	p.handlers = newHandlers(ss, layout, p.sched, p.links, ss.StartTime())
	return p, nil
}

// StateSystem returns the store the provider writes into.
func (p *Provider) StateSystem() *state.StateSystem { return p.ss }

// Trace returns the build trace, nil when tracing is disabled.
func (p *Provider) Trace() *trace.BuildTrace { return p.bt }

// Stats returns the counters collected so far.
func (p *Provider) Stats() Stats {
	s := p.stats
	s.Edges = p.links.tracker.Count()
	s.Hosts = p.handlers.hosts.Len()
	return s
}

// ProcessEvent applies ev. Malformed events and rejected mutations are logged
// and recorded; only errors that end the build are returned.
func (p *Provider) ProcessEvent(ev *event.Event) error {
	if p.ss.Disposed() {
		return state.ErrDisposed
	}
	if p.started && ev.Timestamp < p.lastTime {
		p.skip(ev, KindUnknown, fmt.Errorf("timestamp %d before stream time %d: %w", ev.Timestamp, p.lastTime, state.ErrOutOfOrder))
		return nil
	}
	p.started = true
	p.lastTime = ev.Timestamp

	if _, err := p.sched.DrainUpTo(ev.Timestamp); err != nil {
		return err
	}
	defer func() {
		futureEventsPending.WithLabelValues(p.id).Set(float64(p.sched.Len()))
	}()

	p.ss.UpdateCurrentEndTime(ev.Timestamp)

	kind := p.layout.Classify(ev)
	handled := false
	if p.kinds[kind] {
		handled = true
		if err := p.settle(kind, ev, p.handlers.handle(kind, ev)); err != nil {
			return err
		}
	}
	// counters can read fields of events handled by another kind
	if kind != KindCounter && p.kinds[KindCounter] && len(p.layout.countersFor(ev.Name)) > 0 {
		handled = true
		if err := p.settle(KindCounter, ev, p.handlers.handleCounters(ev)); err != nil {
			return err
		}
	}
	if !handled {
		p.stats.Ignored++
		if kind == KindUnknown {
			logrus.Debugf("[%s] no handler for %s", p.id, ev)
		}
		return nil
	}
	p.stats.Events++
	p.links.prune(ev.Timestamp)
	return nil
}

// settle sorts a handler error into skip, rejection or failure.
func (p *Provider) settle(kind HandlerKind, ev *event.Event, err error) error {
	eventsTotal.WithLabelValues(p.id, kind.String()).Inc()
	switch {
	case err == nil:
		return nil
	case state.IsFatal(err):
		logrus.Errorf("[%s] %s: %v", p.id, ev, err)
		return err
	case errors.Is(err, ErrMalformedEvent):
		p.skip(ev, kind, err)
		return nil
	default:
		p.reject(state.InvalidQuark, ev.Timestamp, kind.String(), err)
		return nil
	}
}

func (p *Provider) skip(ev *event.Event, kind HandlerKind, err error) {
	p.stats.Skipped++
	eventsSkipped.WithLabelValues(p.id, kind.String()).Inc()
	logrus.Warnf("[%s] skipped %s: %v", p.id, ev, err)
	if p.bt != nil {
		p.bt.RecordSkip(trace.SkipRecord{Event: ev.Name, Clock: ev.Timestamp, Kind: kind.String(), Reason: err.Error()})
	}
}

func (p *Provider) reject(q state.Quark, t int64, op string, err error) {
	p.stats.Rejected++
	mutationsRejected.WithLabelValues(p.id, op).Inc()
	path := ""
	if q >= 0 {
		path = p.ss.Tree().FullPath(q)
	}
	logrus.Warnf("[%s] rejected %s %s at %d: %v", p.id, op, path, t, err)
	if p.bt != nil {
		p.bt.RecordRejection(trace.RejectionRecord{Path: path, Clock: t, Op: op, Reason: err.Error()})
	}
}

// Done applies every pending future event and closes the history at the
// latest time seen.
func (p *Provider) Done() error {
	if _, err := p.sched.DrainAll(); err != nil {
		return err
	}
	futureEventsPending.WithLabelValues(p.id).Set(0)
	if pending := p.links.correlator.Pending(); pending > 0 {
		logrus.Debugf("[%s] %d dispatches never completed", p.id, pending)
	}
	if err := p.ss.CloseHistory(p.lastTime); err != nil {
		return fmt.Errorf("closing history of %s: %w", p.id, err)
	}
	stats := p.Stats()
	logrus.Infof("[%s] history closed at %d: %d events, %d skipped, %d rejected, %d edges",
		p.id, p.ss.CurrentEndTime(), stats.Events, stats.Skipped, stats.Rejected, stats.Edges)
	return nil
}
