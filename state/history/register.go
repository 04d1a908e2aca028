package history

import "github.com/tracestate/tracestate/state"

func init() {
	state.NewPersistentBackendFunc = func(cfg state.BackendConfig) (state.Backend, error) {
		return NewWriter(cfg)
	}
}
