package tether

// Status summarizes the State of a Cell.
type Status int32

const (
	// StatusLoading indicates a fetch or subscription is outstanding, or a
	// reload was requested. A stale value may still be present.
	StatusLoading Status = iota

	// StatusReady indicates the last transition delivered a value.
	StatusReady

	// StatusFailed indicates the last transition delivered an error.
	StatusFailed

	// StatusIdle indicates nothing is loading and neither a value nor an
	// error is held. This is the state after Reset without a default, or
	// after binding a nil reference.
	StatusIdle
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// State is a point-in-time copy of a Cell.
//
// Value and Err are never both set. HasValue distinguishes a present zero
// value from an absent one.
type State[T any] struct {
	Value    T
	HasValue bool
	Loading  bool
	Err      error
}

// Status reports which of the Status values best describes s.
func (s State[T]) Status() Status {
	switch {
	case s.Loading:
		return StatusLoading
	case s.Err != nil:
		return StatusFailed
	case s.HasValue:
		return StatusReady
	default:
		return StatusIdle
	}
}

// initialState applies the default value rule. Only the initial load may be
// reported as loading; a reset always settles.
func initialState[T any](v T, ok, initialLoad bool) State[T] {
	if ok {
		return State[T]{Value: v, HasValue: true}
	}
	return State[T]{Loading: initialLoad}
}
