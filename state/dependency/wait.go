package dependency

import "github.com/tracestate/tracestate/state"

// Activity is a device-side operation as seen by the wait matcher.
type Activity struct {
	Device        int64
	Dispatch      int64 // when the host enqueued it
	End           int64
	Endpoint      state.Endpoint
	CorrelationID int64
}

// Wait is a host-side blocking call such as a device synchronization.
type Wait struct {
	Device   int64
	Begin    int64
	End      int64
	Endpoint state.Endpoint
}

// WaitMatcher infers device -> host edges: a wait depends on every activity of
// its device that was enqueued before the wait began and finished while it was
// blocked. Each activity/wait pair is matched once, when the later of the two
// is added. Experimental; the heuristic ignores stream semantics.
type WaitMatcher struct {
	horizon    int64
	activities []Activity
	waits      []Wait
}

// NewWaitMatcher creates a matcher that forgets records older than horizon.
func NewWaitMatcher(horizon int64) *WaitMatcher {
	return &WaitMatcher{horizon: horizon}
}

func blocks(a Activity, w Wait) bool {
	return a.Device == w.Device && a.Dispatch <= w.Begin && a.End >= w.Begin && a.End <= w.End
}

func edgeOf(a Activity, w Wait) Match {
	return Match{ID: a.CorrelationID, Source: a.Endpoint, Dest: w.Endpoint, Start: a.End, End: w.End}
}

// AddActivity records a finished activity and returns the waits it unblocked.
func (m *WaitMatcher) AddActivity(a Activity) []Match {
	var matches []Match
	for _, w := range m.waits {
		if blocks(a, w) {
			matches = append(matches, edgeOf(a, w))
		}
	}
	m.activities = append(m.activities, a)
	return matches
}

// AddWait records a finished wait and returns the activities it waited for.
func (m *WaitMatcher) AddWait(w Wait) []Match {
	var matches []Match
	for _, a := range m.activities {
		if blocks(a, w) {
			matches = append(matches, edgeOf(a, w))
		}
	}
	m.waits = append(m.waits, w)
	return matches
}

// Prune drops activities and waits that ended more than horizon before now.
func (m *WaitMatcher) Prune(now int64) {
	cutoff := now - m.horizon
	keptActivities := m.activities[:0]
	for _, a := range m.activities {
		if a.End >= cutoff {
			keptActivities = append(keptActivities, a)
		}
	}
	m.activities = keptActivities
	keptWaits := m.waits[:0]
	for _, w := range m.waits {
		if w.End >= cutoff {
			keptWaits = append(keptWaits, w)
		}
	}
	m.waits = keptWaits
}

// Size returns the number of retained activities and waits.
func (m *WaitMatcher) Size() (activities, waits int) {
	return len(m.activities), len(m.waits)
}
