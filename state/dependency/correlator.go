package dependency

import "github.com/tracestate/tracestate/state"

// Match is a dispatch paired with its completion.
type Match struct {
	ID     int64
	Source state.Endpoint
	Dest   state.Endpoint
	Start  int64
	End    int64
}

type dispatch struct {
	from state.Endpoint
	at   int64
}

// Correlator pairs dispatches with completions sharing a correlation id.
// Several dispatches pending on one id complete in FIFO order.
type Correlator struct {
	pending   map[int64][]dispatch
	orphans   int
	completed int
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[int64][]dispatch)}
}

// Dispatch records the start side of correlation id.
func (c *Correlator) Dispatch(id int64, from state.Endpoint, at int64) {
	c.pending[id] = append(c.pending[id], dispatch{from: from, at: at})
}

// Complete pairs id with its oldest pending dispatch.
// A completion nobody dispatched is counted and dropped.
func (c *Correlator) Complete(id int64, to state.Endpoint, at int64) (Match, bool) {
	queue := c.pending[id]
	if len(queue) == 0 {
		c.orphans++
		return Match{}, false
	}
	d := queue[0]
	if len(queue) == 1 {
		delete(c.pending, id)
	} else {
		c.pending[id] = queue[1:]
	}
	c.completed++
	return Match{ID: id, Source: d.from, Dest: to, Start: d.at, End: at}, true
}

// Pending returns the number of dispatches still waiting for a completion.
func (c *Correlator) Pending() int {
	n := 0
	for _, queue := range c.pending {
		n += len(queue)
	}
	return n
}

// Orphans returns the number of completions that had no dispatch.
func (c *Correlator) Orphans() int { return c.orphans }

// Completed returns the number of matched pairs.
func (c *Correlator) Completed() int { return c.completed }
