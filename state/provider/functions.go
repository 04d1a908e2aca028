package provider

type functionKey struct {
	api string
	cid int64
}

// FunctionTable decodes (api, cid) pairs into function names. Filled from the
// function-name metadata events of the trace; owned by one builder.
type FunctionTable struct {
	names map[functionKey]string
}

// NewFunctionTable creates an empty table.
func NewFunctionTable() *FunctionTable {
	return &FunctionTable{names: make(map[functionKey]string)}
}

// Add registers name for (api, cid), replacing any previous entry.
func (f *FunctionTable) Add(api string, cid int64, name string) {
	f.names[functionKey{api: api, cid: cid}] = name
}

// Lookup returns the name registered for (api, cid).
func (f *FunctionTable) Lookup(api string, cid int64) (string, bool) {
	name, ok := f.names[functionKey{api: api, cid: cid}]
	return name, ok
}

// Len returns the number of entries.
func (f *FunctionTable) Len() int { return len(f.names) }
