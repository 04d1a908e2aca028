package provider

import (
	"errors"
	"fmt"

	"github.com/tracestate/tracestate/state/event"
)

// ErrMalformedEvent is wrapped by every MalformedError.
var ErrMalformedEvent = errors.New("malformed event")

// MalformedError reports an event missing what its handler needs.
// The event is skipped; the build continues.
type MalformedError struct {
	Event  string
	Clock  int64
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s at %d: %s", e.Event, e.Clock, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformedEvent }

func malformed(ev *event.Event, format string, args ...any) error {
	return &MalformedError{Event: ev.Name, Clock: ev.Timestamp, Reason: fmt.Sprintf(format, args...)}
}

func missingField(ev *event.Event, field string) error {
	return malformed(ev, "missing field %s", field)
}
