package state

import (
	"fmt"
	"sort"
)

// snapshot is a consistent view of the store-level fields a query needs.
type snapshot struct {
	end      int64
	finished bool
	attrs    []*attribute
}

func (s *StateSystem) readSnapshot() (snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disposed {
		return snapshot{}, ErrDisposed
	}
	return snapshot{end: s.endTime, finished: s.finished, attrs: s.attrs}, nil
}

func (s *StateSystem) checkTime(snap snapshot, t int64) error {
	if t < s.startTime || t > snap.end {
		return fmt.Errorf("t=%d not in [%d, %d]: %w", t, s.startTime, snap.end, ErrTimeRange)
	}
	return nil
}

func (s *StateSystem) checkQuark(q Quark) error {
	if q < 0 || int(q) >= s.tree.NumAttributes() {
		return fmt.Errorf("quark %d: %w", q, ErrAttributeNotFound)
	}
	return nil
}

// intervalAt returns the interval of q containing t. t must be inside the history range.
func (s *StateSystem) intervalAt(snap snapshot, q Quark, t int64) Interval {
	if int(q) >= len(snap.attrs) {
		return Interval{Quark: q, Start: s.startTime, End: snap.end, Value: NullValue()}
	}
	a := snap.attrs[q]
	a.mu.RLock()
	defer a.mu.RUnlock()

	h := a.history
	if t >= a.start {
		if snap.finished && len(h) > 0 && h[len(h)-1].End == t {
			return h[len(h)-1]
		}
		return Interval{Quark: q, Start: a.start, End: max(snap.end, a.start), Value: a.value}
	}
	idx := sort.Search(len(h), func(i int) bool { return h[i].End > t })
	return h[idx]
}

// intervalsIn returns the intervals of q intersecting [start, end], ongoing tail included.
func (s *StateSystem) intervalsIn(snap snapshot, q Quark, start, end int64) []Interval {
	if int(q) >= len(snap.attrs) {
		return []Interval{{Quark: q, Start: s.startTime, End: snap.end, Value: NullValue()}}
	}
	a := snap.attrs[q]
	a.mu.RLock()
	defer a.mu.RUnlock()

	h := a.history
	result := make([]Interval, 0)
	first := sort.Search(len(h), func(i int) bool { return h[i].End > start })
	for i := first; i < len(h) && h[i].Start <= end; i++ {
		result = append(result, h[i])
	}
	if !snap.finished || len(h) == 0 {
		tail := Interval{Quark: q, Start: a.start, End: max(snap.end, a.start), Value: a.value}
		if tail.Intersects(start, end) {
			result = append(result, tail)
		}
	}
	return result
}

// QuerySingleState returns the interval of q that contains t.
// At the end time of a closed history the last committed interval is returned.
func (s *StateSystem) QuerySingleState(t int64, q Quark) (Interval, error) {
	snap, err := s.readSnapshot()
	if err != nil {
		return Interval{}, err
	}
	if err := s.checkQuark(q); err != nil {
		return Interval{}, err
	}
	if err := s.checkTime(snap, t); err != nil {
		return Interval{}, err
	}
	return s.intervalAt(snap, q, t), nil
}

// QueryStates returns the interval containing t for each quark, in the given order.
func (s *StateSystem) QueryStates(quarks []Quark, t int64) ([]Interval, error) {
	snap, err := s.readSnapshot()
	if err != nil {
		return nil, err
	}
	if err := s.checkTime(snap, t); err != nil {
		return nil, err
	}
	result := make([]Interval, 0, len(quarks))
	for _, q := range quarks {
		if err := s.checkQuark(q); err != nil {
			return nil, err
		}
		result = append(result, s.intervalAt(snap, q, t))
	}
	return result, nil
}

// QueryFullState returns the state of every attribute at t, indexed by quark.
func (s *StateSystem) QueryFullState(t int64) ([]Interval, error) {
	snap, err := s.readSnapshot()
	if err != nil {
		return nil, err
	}
	if err := s.checkTime(snap, t); err != nil {
		return nil, err
	}
	n := s.tree.NumAttributes()
	result := make([]Interval, n)
	for q := Quark(0); int(q) < n; q++ {
		result[q] = s.intervalAt(snap, q, t)
	}
	return result, nil
}

// Query2D returns every interval of the given quarks intersecting [start, end],
// grouped by quark in argument order and sorted by start time within a quark.
// The window is clipped to the history range.
func (s *StateSystem) Query2D(quarks []Quark, start, end int64) ([]Interval, error) {
	if start > end {
		return nil, fmt.Errorf("window [%d, %d]: %w", start, end, ErrTimeRange)
	}
	snap, err := s.readSnapshot()
	if err != nil {
		return nil, err
	}
	if end < s.startTime || start > snap.end {
		return nil, fmt.Errorf("window [%d, %d] outside [%d, %d]: %w", start, end, s.startTime, snap.end, ErrTimeRange)
	}
	start = max(start, s.startTime)
	end = min(end, snap.end)

	result := make([]Interval, 0)
	for _, q := range quarks {
		if err := s.checkQuark(q); err != nil {
			return nil, err
		}
		result = append(result, s.intervalsIn(snap, q, start, end)...)
	}
	return result, nil
}

// QueryOngoing returns the current value of q, null for unknown or untouched quarks.
func (s *StateSystem) QueryOngoing(q Quark) Value {
	a := s.peek(q)
	if a == nil {
		return NullValue()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value
}

// OngoingStartTime returns the start of the ongoing interval of q.
func (s *StateSystem) OngoingStartTime(q Quark) int64 {
	a := s.peek(q)
	if a == nil {
		return s.startTime
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.start
}

// StackDepth returns the number of values pushed on q and not yet popped.
func (s *StateSystem) StackDepth(q Quark) int {
	a := s.peek(q)
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.stack)
}

func (s *StateSystem) peek(q Quark) *attribute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q < 0 || int(q) >= len(s.attrs) {
		return nil
	}
	return s.attrs[q]
}
