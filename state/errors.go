package state

import "errors"

var (
	// ErrAttributeNotFound is returned by non-creating path lookups.
	ErrAttributeNotFound = errors.New("attribute not found")
	// ErrOutOfOrder is returned when a mutation is older than the attribute's ongoing start.
	ErrOutOfOrder = errors.New("timestamp earlier than ongoing state")
	// ErrStackEmpty is returned when popping an attribute nothing was pushed on.
	ErrStackEmpty = errors.New("pop on empty attribute stack")
	// ErrTimeRange is returned by queries outside [StartTime, CurrentEndTime].
	ErrTimeRange = errors.New("time outside of history range")
	// ErrDisposed is returned by every operation on a disposed state system.
	ErrDisposed = errors.New("state system disposed")
	// ErrHistoryClosed is returned by mutations after CloseHistory.
	ErrHistoryClosed = errors.New("history already closed")
	// ErrTypeMismatch is returned when incrementing a non-numeric attribute.
	ErrTypeMismatch = errors.New("value kind mismatch")
	// ErrBackend wraps history backend failures.
	ErrBackend = errors.New("history backend failure")
)

// IsFatal reports whether err must abort the current build pass.
// Data problems (ordering, missing attributes, empty stacks) are not fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBackend) || errors.Is(err, ErrDisposed) || errors.Is(err, ErrHistoryClosed)
}
