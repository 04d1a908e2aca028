// Package future schedules state mutations whose time is known before the
// event stream reaches it, such as the end of a kernel reported with a duration.
package future

import (
	"container/heap"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tracestate/tracestate/state"
)

// Kind is the mutation a future event applies.
type Kind int

const (
	Modify Kind = iota
	Push
	Pop
)

var kindNames = map[Kind]string{
	Modify: "modify",
	Push:   "push",
	Pop:    "pop",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is a deferred state mutation.
type Event struct {
	Time  int64
	Value state.Value // ignored for Pop
	Quark state.Quark
	Kind  Kind
}

// Applier is the mutation surface a scheduler drains into. *state.StateSystem implements it.
type Applier interface {
	ModifyAttribute(t int64, v state.Value, q state.Quark) error
	PushAttribute(t int64, v state.Value, q state.Quark) error
	PopAttribute(t int64, q state.Quark) (state.Value, error)
}

// Handle is the scheduling side of a Scheduler, handed to event handlers.
type Handle interface {
	Schedule(t int64, v state.Value, q state.Quark, kind Kind)
}

type entry struct {
	event Event
	seqID int64
}

// eventQueue is a min-heap ordered by (Time, seqID).
type eventQueue []entry

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].event.Time != q[j].event.Time {
		return q[i].event.Time < q[j].event.Time
	}
	return q[i].seqID < q[j].seqID
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(entry)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Scheduler holds future events until the stream time reaches them.
// Events with the same time are applied in insertion order.
// A Scheduler belongs to one builder and is not safe for concurrent use.
type Scheduler struct {
	queue  eventQueue
	seq    int64
	target Applier

	// OnReject is called for each event the target rejected with a non-fatal error.
	OnReject func(ev Event, err error)
}

// NewScheduler creates a scheduler applying events to target.
func NewScheduler(target Applier) *Scheduler {
	if target == nil {
		panic("future.NewScheduler: target must not be nil")
	}
	s := &Scheduler{
		queue:  make(eventQueue, 0),
		target: target,
	}
	heap.Init(&s.queue)
	return s
}

// Schedule adds a mutation to apply at time t.
func (s *Scheduler) Schedule(t int64, v state.Value, q state.Quark, kind Kind) {
	s.seq++
	heap.Push(&s.queue, entry{
		event: Event{Time: t, Value: v, Quark: q, Kind: kind},
		seqID: s.seq,
	})
}

// Len returns the number of pending events.
func (s *Scheduler) Len() int { return s.queue.Len() }

// Peek returns the next event without removing it.
func (s *Scheduler) Peek() (Event, bool) {
	if s.queue.Len() == 0 {
		return Event{}, false
	}
	return s.queue[0].event, true
}

// DrainUpTo applies every event with Time <= now, in time order, and returns
// how many were applied. Only fatal store errors are returned.
func (s *Scheduler) DrainUpTo(now int64) (int, error) {
	applied := 0
	for s.queue.Len() > 0 && s.queue[0].event.Time <= now {
		ev := heap.Pop(&s.queue).(entry).event
		if err := s.apply(ev); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// DrainAll applies every pending event. Called once at the end of the stream.
func (s *Scheduler) DrainAll() (int, error) {
	applied := 0
	for s.queue.Len() > 0 {
		ev := heap.Pop(&s.queue).(entry).event
		if err := s.apply(ev); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (s *Scheduler) apply(ev Event) error {
	var err error
	switch ev.Kind {
	case Modify:
		err = s.target.ModifyAttribute(ev.Time, ev.Value, ev.Quark)
	case Push:
		err = s.target.PushAttribute(ev.Time, ev.Value, ev.Quark)
	case Pop:
		_, err = s.target.PopAttribute(ev.Time, ev.Quark)
	default:
		err = fmt.Errorf("unknown future event kind %v", ev.Kind)
	}
	if err == nil {
		return nil
	}
	if state.IsFatal(err) {
		return fmt.Errorf("apply %s at %d on quark %d: %w", ev.Kind, ev.Time, ev.Quark, err)
	}
	logrus.Warnf("future event %s at %d on quark %d dropped: %v", ev.Kind, ev.Time, ev.Quark, err)
	if s.OnReject != nil {
		s.OnReject(ev, err)
	}
	return nil
}
