package tether

// Data is the payload extracted from a binder's snapshot, together with the
// snapshot itself and the binder's loading flag and error.
type Data[T any, S Snapshot] struct {
	// Value is the decoded payload, or the initial value when the snapshot
	// is absent or the record does not exist.
	Value    T
	HasValue bool

	// Snapshot is the underlying snapshot.
	Snapshot    S
	HasSnapshot bool

	Loading bool
	Err     error
}

// DataOptions control payload extraction.
type DataOptions[T any] struct {
	// Snapshot is passed to Snapshot.Decode.
	Snapshot SnapshotOptions

	// InitialValue substitutes for an absent payload when non-nil.
	InitialValue *T
}

// Extract derives Data from a binder state. A snapshot of an existing record
// is decoded into a T; otherwise InitialValue is used if set. Loading and
// Err pass through unchanged, except that a decode failure is reported as
// Err when the state holds no error of its own.
func Extract[T any, S Snapshot](state State[S], opts DataOptions[T]) Data[T, S] {
	d := Data[T, S]{
		Snapshot:    state.Value,
		HasSnapshot: state.HasValue,
		Loading:     state.Loading,
		Err:         state.Err,
	}

	if state.HasValue && state.Value.Exists() {
		var v T
		if err := state.Value.Decode(&v, opts.Snapshot); err != nil {
			if d.Err == nil {
				d.Err = err
			}
		} else {
			d.Value = v
			d.HasValue = true
			return d
		}
	}

	if opts.InitialValue != nil {
		d.Value = *opts.InitialValue
		d.HasValue = true
	}
	return d
}

// DataListener is a Listener that also decodes its snapshots.
type DataListener[R comparable, S Snapshot, T any] struct {
	*Listener[R, S]
	opts DataOptions[T]
}

// NewDataListener wraps a new Listener on store.
func NewDataListener[R comparable, S Snapshot, T any](store Subscriber[R, S], opts DataOptions[T]) *DataListener[R, S, T] {
	return &DataListener[R, S, T]{
		Listener: NewListener[R, S](store),
		opts:     opts,
	}
}

// Data returns the decoded payload of the current state.
func (d *DataListener[R, S, T]) Data() Data[T, S] {
	return Extract(d.State(), d.opts)
}

// DataOnce is a Once binder that also decodes its snapshots.
// Reload and Close pass through to the embedded Once.
type DataOnce[R comparable, S Snapshot, T any] struct {
	*Once[R, S]
	opts DataOptions[T]
}

// NewDataOnce wraps a new Once binder on store.
func NewDataOnce[R comparable, S Snapshot, T any](store Getter[R, S], opts DataOptions[T], pipeline ...Option[R, S]) *DataOnce[R, S, T] {
	return &DataOnce[R, S, T]{
		Once: NewOnce(store, pipeline...),
		opts: opts,
	}
}

// Data returns the decoded payload of the current state.
func (d *DataOnce[R, S, T]) Data() Data[T, S] {
	return Extract(d.State(), d.opts)
}
