package tether

import (
	"errors"
	"sync"
)

// ErrUnknown is held in place of a nil error passed to SetError.
var ErrUnknown = errors.New("tether: unknown error")

type transitionKind int

const (
	transitionLoading transitionKind = iota
	transitionValue
	transitionError
	transitionReset
)

// transition is a single command applied to a Cell.
type transition[T any] struct {
	kind     transitionKind
	value    T
	hasValue bool
	err      error
}

// reduce returns the state that results from applying t to s.
func reduce[T any](s State[T], t transition[T]) State[T] {
	switch t.kind {
	case transitionLoading:
		s.Loading = true
		s.Err = nil
		return s
	case transitionValue:
		return State[T]{Value: t.value, HasValue: t.hasValue}
	case transitionError:
		return State[T]{Err: t.err}
	case transitionReset:
		return initialState(t.value, t.hasValue, false)
	default:
		return s
	}
}

// Cell holds the latest value, loading flag, and error of an asynchronous
// source. It performs no I/O; binders write into it and callers read from it.
//
// A Cell is safe for concurrent use.
type Cell[T any] struct {
	getDefault func() (T, bool)

	mu      sync.RWMutex
	state   State[T]
	changed chan struct{}
}

// NewCell creates a Cell. If getDefault is non-nil and reports a value, the
// cell starts settled on that value; otherwise it starts loading.
// getDefault is called again on every Reset.
func NewCell[T any](getDefault func() (T, bool)) *Cell[T] {
	c := &Cell[T]{
		getDefault: getDefault,
		changed:    make(chan struct{}),
	}
	v, ok := c.defaultValue()
	c.state = initialState(v, ok, true)
	return c
}

func (c *Cell[T]) defaultValue() (T, bool) {
	if c.getDefault == nil {
		var zero T
		return zero, false
	}
	return c.getDefault()
}

// MarkLoading sets loading and clears the error. Any held value is kept so
// callers may display it while the next result is outstanding.
func (c *Cell[T]) MarkLoading() {
	c.apply(transition[T]{kind: transitionLoading})
}

// SetValue stores v, clears the error, and stops loading.
func (c *Cell[T]) SetValue(v T) {
	c.apply(transition[T]{kind: transitionValue, value: v, hasValue: true})
}

// Unset is SetValue with an absent value.
func (c *Cell[T]) Unset() {
	c.apply(transition[T]{kind: transitionValue})
}

// SetError stores err, clears the value, and stops loading. A nil err is
// stored as ErrUnknown so the cell still reports StatusFailed.
func (c *Cell[T]) SetError(err error) {
	if err == nil {
		err = ErrUnknown
	}
	c.apply(transition[T]{kind: transitionError, err: err})
}

// Reset re-evaluates the default value. Unlike NewCell, the result is never
// loading.
func (c *Cell[T]) Reset() {
	v, ok := c.defaultValue()
	c.apply(transition[T]{kind: transitionReset, value: v, hasValue: ok})
}

func (c *Cell[T]) apply(t transition[T]) {
	c.mu.Lock()
	c.state = reduce(c.state, t)
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// State returns a copy of the current state.
func (c *Cell[T]) State() State[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Value returns the held value and whether one is present.
func (c *Cell[T]) Value() (T, bool) {
	s := c.State()
	return s.Value, s.HasValue
}

// Loading reports whether the cell is loading.
func (c *Cell[T]) Loading() bool {
	return c.State().Loading
}

// Err returns the held error, or nil.
func (c *Cell[T]) Err() error {
	return c.State().Err
}

// Status returns the status of the current state.
func (c *Cell[T]) Status() Status {
	return c.State().Status()
}

// Changed returns a channel that is closed by the next transition.
// Call it again after each notification to keep observing.
func (c *Cell[T]) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}
