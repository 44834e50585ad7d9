package tether

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/capitan"
)

// binder holds the state shared by Listener and Once: the cell it writes,
// the generation that identifies the current request, and the closed flag.
// Every write to the cell happens with mu held and only for the current
// generation of an open binder.
type binder[S any] struct {
	cell         *Cell[S]
	metrics      MetricsProvider
	errorHistory *errorLog

	mu         sync.Mutex
	ctx        context.Context
	reference  string
	generation uint64
	bound      bool
	closed     bool
}

func newBinder[S any]() binder[S] {
	return binder[S]{
		cell: NewCell[S](nil),
		ctx:  context.Background(),
	}
}

// current reports whether a result for gen may still be applied.
// Caller holds mu.
func (b *binder[S]) current(gen uint64) bool {
	return !b.closed && gen == b.generation
}

// write applies fn to the cell and reports any status transition.
// Caller holds mu.
func (b *binder[S]) write(fn func(*Cell[S])) {
	from := b.cell.Status()
	fn(b.cell)
	to := b.cell.Status()
	if from == to {
		return
	}
	capitan.Emit(b.ctx, CellStatusChanged,
		KeyReference.Field(b.reference),
		KeyOldStatus.Field(from.String()),
		KeyNewStatus.Field(to.String()),
	)
	if b.metrics != nil {
		b.metrics.OnStatusChange(from, to)
	}
}

func (b *binder[S]) setValue(v S) {
	b.write(func(c *Cell[S]) { c.SetValue(v) })
	b.errorHistory.reset()
}

func (b *binder[S]) setError(err error) {
	b.write(func(c *Cell[S]) { c.SetError(err) })
	b.errorHistory.record(err)
}

// deliver runs fn with mu held if gen is still current.
func (b *binder[S]) deliver(gen uint64, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.current(gen) {
		return
	}
	fn()
}

// Cell returns the cell the binder writes into.
func (b *binder[S]) Cell() *Cell[S] {
	return b.cell
}

// State returns the current snapshot, loading flag, and error.
func (b *binder[S]) State() State[S] {
	return b.cell.State()
}

// Status returns the status of the bound cell.
func (b *binder[S]) Status() Status {
	return b.cell.Status()
}

// Changed returns a channel closed by the next transition of the cell.
func (b *binder[S]) Changed() <-chan struct{} {
	return b.cell.Changed()
}

// ErrorHistory returns the most recent applied errors, oldest first.
// Returns nil unless ErrorHistorySize was configured.
func (b *binder[S]) ErrorHistory() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errorHistory.snapshot()
}

func refString[R any](ref R) string {
	if s, ok := any(ref).(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", ref)
}
