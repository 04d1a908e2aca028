package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config configures a StateSystem.
type Config struct {
	StartTime int64   // start of the history; usually the first event timestamp
	Backend   Backend // optional; receives every committed interval
}

// attribute holds the committed history and the ongoing state of one quark.
type attribute struct {
	mu      sync.RWMutex
	history []Interval
	value   Value
	start   int64
	stack   []Value // values to restore on pop
}

// StateSystem is the interval state store. One builder goroutine mutates it;
// any number of readers may query it concurrently.
type StateSystem struct {
	tree      *AttributeTree
	startTime int64
	backend   Backend

	mu       sync.RWMutex // guards everything below; never acquired while holding an attribute lock
	attrs    []*attribute
	endTime  int64
	finished bool
	disposed bool
	failure  error

	done     chan struct{}
	doneOnce sync.Once
}

// New creates an empty state system whose history starts at cfg.StartTime.
func New(cfg Config) *StateSystem {
	return &StateSystem{
		tree:      NewAttributeTree(),
		startTime: cfg.StartTime,
		backend:   cfg.Backend,
		attrs:     make([]*attribute, 0),
		endTime:   cfg.StartTime,
		done:      make(chan struct{}),
	}
}

// Tree returns the attribute tree of this store.
func (s *StateSystem) Tree() *AttributeTree { return s.tree }

// StartTime returns the first timestamp covered by the history.
func (s *StateSystem) StartTime() int64 { return s.startTime }

// CurrentEndTime returns the latest timestamp seen so far.
func (s *StateSystem) CurrentEndTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endTime
}

// IsFinished reports whether CloseHistory completed.
func (s *StateSystem) IsFinished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}

// Done is closed when the history is closed or the store is disposed.
func (s *StateSystem) Done() <-chan struct{} { return s.done }

// Err returns the backend failure that stopped the build, if any.
func (s *StateSystem) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// Disposed reports whether Dispose was called.
func (s *StateSystem) Disposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}

// UpdateCurrentEndTime moves the end of the history forward to t.
func (s *StateSystem) UpdateCurrentEndTime(t int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.disposed {
		return
	}
	if t > s.endTime {
		s.endTime = t
	}
}

func (s *StateSystem) writable() error {
	switch {
	case s.disposed:
		return ErrDisposed
	case s.failure != nil:
		return s.failure
	case s.finished:
		return ErrHistoryClosed
	}
	return nil
}

// attributeFor returns the record of q, creating it for quarks the tree knows about.
func (s *StateSystem) attributeFor(q Quark) (*attribute, error) {
	s.mu.RLock()
	if err := s.writable(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	if q >= 0 && int(q) < len(s.attrs) {
		a := s.attrs[q]
		s.mu.RUnlock()
		return a, nil
	}
	s.mu.RUnlock()

	n := s.tree.NumAttributes()
	if q < 0 || int(q) >= n {
		return nil, fmt.Errorf("quark %d: %w", q, ErrAttributeNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.attrs) < n {
		s.attrs = append(s.attrs, &attribute{start: s.startTime})
	}
	return s.attrs[q], nil
}

// fail records a backend failure; every later mutation returns it.
func (s *StateSystem) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		s.failure = err
	}
}

// commitLocked closes the ongoing interval of a at t. Zero-length intervals are dropped.
func (s *StateSystem) commitLocked(a *attribute, q Quark, t int64) error {
	if t <= a.start {
		return nil
	}
	iv := Interval{Quark: q, Start: a.start, End: t, Value: a.value}
	if s.backend != nil {
		if err := s.backend.Append(iv); err != nil {
			return fmt.Errorf("append %v: %w: %w", iv, ErrBackend, err)
		}
	}
	a.history = append(a.history, iv)
	a.start = t
	return nil
}

// setLocked makes v the ongoing value of a from t.
func (s *StateSystem) setLocked(a *attribute, q Quark, t int64, v Value) error {
	if t < a.start {
		return fmt.Errorf("quark %d at %d (ongoing since %d): %w", q, t, a.start, ErrOutOfOrder)
	}
	if v == a.value {
		return nil
	}
	if t == a.start {
		a.value = v
		return nil
	}
	if err := s.commitLocked(a, q, t); err != nil {
		return err
	}
	a.value = v
	return nil
}

// persistPointLocked hands the backend the zero-length interval of a history
// that starts and ends at t, so the stored history keeps the values set at t.
func (s *StateSystem) persistPointLocked(a *attribute, q Quark, t int64) error {
	if s.backend == nil {
		return nil
	}
	iv := Interval{Quark: q, Start: t, End: t, Value: a.value}
	if err := s.backend.Append(iv); err != nil {
		return fmt.Errorf("append %v: %w: %w", iv, ErrBackend, err)
	}
	return nil
}

// mutate runs fn under the attribute lock of q and records fatal failures.
func (s *StateSystem) mutate(t int64, q Quark, fn func(a *attribute) error) error {
	a, err := s.attributeFor(q)
	if err != nil {
		return err
	}
	a.mu.Lock()
	err = fn(a)
	a.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrBackend) {
			logrus.Errorf("state system: %v", err)
			s.fail(err)
		}
		return err
	}
	s.UpdateCurrentEndTime(t)
	return nil
}

// ModifyAttribute sets the value of q from t onwards.
// Writing the ongoing value again is a no-op; writing at the ongoing start replaces the value.
func (s *StateSystem) ModifyAttribute(t int64, v Value, q Quark) error {
	return s.mutate(t, q, func(a *attribute) error {
		return s.setLocked(a, q, t, v)
	})
}

// PushAttribute makes v the value of q from t and remembers the previous value for PopAttribute.
func (s *StateSystem) PushAttribute(t int64, v Value, q Quark) error {
	return s.mutate(t, q, func(a *attribute) error {
		if t < a.start {
			return fmt.Errorf("push quark %d at %d (ongoing since %d): %w", q, t, a.start, ErrOutOfOrder)
		}
		prev := a.value
		if err := s.setLocked(a, q, t, v); err != nil {
			return err
		}
		a.stack = append(a.stack, prev)
		return nil
	})
}

// PopAttribute restores the value q had before the last push and returns the popped value.
func (s *StateSystem) PopAttribute(t int64, q Quark) (Value, error) {
	var popped Value
	err := s.mutate(t, q, func(a *attribute) error {
		if len(a.stack) == 0 {
			return fmt.Errorf("quark %d at %d: %w", q, t, ErrStackEmpty)
		}
		prev := a.stack[len(a.stack)-1]
		popped = a.value
		if err := s.setLocked(a, q, t, prev); err != nil {
			return err
		}
		a.stack = a.stack[:len(a.stack)-1]
		return nil
	})
	if err != nil {
		return NullValue(), err
	}
	return popped, nil
}

// IncrementAttribute adds delta to the integer value of q. Null counts as zero.
func (s *StateSystem) IncrementAttribute(t int64, delta int64, q Quark) error {
	return s.mutate(t, q, func(a *attribute) error {
		var current int64
		switch a.value.Kind() {
		case KindNull:
		case KindInt, KindLong:
			current, _ = a.value.Long()
		default:
			return fmt.Errorf("increment quark %d holding %s: %w", q, a.value.Kind(), ErrTypeMismatch)
		}
		return s.setLocked(a, q, t, LongValue(current+delta))
	})
}

// RemoveAttribute nulls q and every attribute below it from t onwards.
// Non-fatal failures on individual sub-attributes do not stop the others.
func (s *StateSystem) RemoveAttribute(t int64, q Quark) error {
	targets := append([]Quark{q}, s.tree.SubAttributes(q, true)...)
	var errs []error
	for _, target := range targets {
		err := s.mutate(t, target, func(a *attribute) error {
			if err := s.setLocked(a, target, t, NullValue()); err != nil {
				return err
			}
			a.stack = nil
			return nil
		})
		if err != nil {
			if IsFatal(err) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseHistory commits every ongoing interval at endTime and freezes the store.
// endTime is raised to CurrentEndTime when smaller.
func (s *StateSystem) CloseHistory(endTime int64) error {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return err
	}
	if endTime < s.endTime {
		endTime = s.endTime
	}
	for len(s.attrs) < s.tree.NumAttributes() {
		s.attrs = append(s.attrs, &attribute{start: s.startTime})
	}
	var err error
	for i, a := range s.attrs {
		a.mu.Lock()
		if endTime == s.startTime {
			err = s.persistPointLocked(a, Quark(i), endTime)
		} else {
			err = s.commitLocked(a, Quark(i), endTime)
		}
		a.mu.Unlock()
		if err != nil {
			break
		}
	}
	if err == nil && s.backend != nil {
		info := HistoryInfo{StartTime: s.startTime, EndTime: endTime, Attributes: attributeRecords(s.tree)}
		if ferr := s.backend.Finish(info); ferr != nil {
			err = fmt.Errorf("finish history: %w: %w", ErrBackend, ferr)
		}
	}
	if err != nil {
		s.failure = err
		s.mu.Unlock()
		return err
	}
	s.endTime = endTime
	s.finished = true
	s.mu.Unlock()

	logrus.Debugf("state system: history closed at %d with %d attributes", endTime, s.tree.NumAttributes())
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

// Dispose aborts the store. Queries and mutations fail with ErrDisposed afterwards.
func (s *StateSystem) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.attrs = nil
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			return fmt.Errorf("close backend: %w", err)
		}
	}
	return nil
}
