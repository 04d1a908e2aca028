package provider

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/tracestate/tracestate/state"
)

// HostCategory groups host keys; ids are unique across categories.
type HostCategory string

const (
	HostThread HostCategory = "thread"
	HostQueue  HostCategory = "queue"
	HostStream HostCategory = "stream"
	HostMemory HostCategory = "memory"
)

// HostKey identifies a host: (api, tid) for threads, (gpu, queue or stream) for devices.
type HostKey struct {
	Category HostCategory
	Scope    string // api name for threads, gpu id for device queues and streams
	ID       int64
}

// HostIDRegistry assigns dense host ids to hosts in first-seen order.
// Owned by one builder.
type HostIDRegistry struct {
	ss         *state.StateSystem
	traceStart int64
	ids        map[HostKey]int
}

// NewHostIDRegistry creates a registry writing ids into ss at traceStart.
func NewHostIDRegistry(ss *state.StateSystem, traceStart int64) *HostIDRegistry {
	return &HostIDRegistry{ss: ss, traceStart: traceStart, ids: make(map[HostKey]int)}
}

// Endpoint returns the endpoint of key. The first time a key is seen its id
// is written at trace start on the parent of lane.
func (r *HostIDRegistry) Endpoint(key HostKey, lane state.Quark) (state.Endpoint, error) {
	tree := r.ss.Tree()
	parent := tree.Parent(lane)
	host := tree.FullPath(parent)
	if id, ok := r.ids[key]; ok {
		return state.Endpoint{Host: host, ID: id}, nil
	}
	id := len(r.ids)
	v, err := hostIDValue(id)
	if err != nil {
		return state.Endpoint{}, fmt.Errorf("host %s: %w", host, err)
	}
	r.ids[key] = id
	if err := r.ss.ModifyAttribute(r.traceStart, v, parent); err != nil {
		return state.Endpoint{}, fmt.Errorf("host id %d for %s: %w", id, host, err)
	}
	return state.Endpoint{Host: host, ID: id}, nil
}

// hostIDValue stores id as an Int value; ids beyond int32 are refused.
func hostIDValue(id int) (state.Value, error) {
	v, err := safecast.Conv[int32](id)
	if err != nil {
		return state.NullValue(), fmt.Errorf("host id %d: %w", id, err)
	}
	return state.IntValue(v), nil
}

// Len returns the number of hosts seen.
func (r *HostIDRegistry) Len() int { return len(r.ids) }
