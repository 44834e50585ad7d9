package tether

import (
	"context"
	"errors"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// Once keeps a Cell in sync with a one-shot read of a reference, with
// manual re-reads through Reload.
//
// Only the most recently issued fetch may write to the cell: each Bind to
// a new reference and each Reload starts a new generation, and results from
// older generations are discarded whatever order they complete in. Results
// arriving after Close are discarded too.
type Once[R comparable, S any] struct {
	binder[S]
	store    Getter[R, S]
	pipeline pipz.Chainable[*Request[R, S]]
	clock    clockz.Clock
	syncMode bool

	ref    R
	opts   GetOptions
	cancel context.CancelFunc
}

// NewOnce creates an unbound Once binder. Its cell starts loading.
//
// Pipeline options wrap the store fetch; see Option.
func NewOnce[R comparable, S any](store Getter[R, S], opts ...Option[R, S]) *Once[R, S] {
	o := &Once[R, S]{
		binder: newBinder[S](),
		store:  store,
		clock:  clockz.RealClock,
	}
	if len(opts) > 0 {
		terminal := pipz.Apply(fetchID, func(ctx context.Context, req *Request[R, S]) (*Request[R, S], error) {
			snap, err := store.FetchOnce(ctx, req.Ref, req.Source)
			if err != nil {
				return req, err
			}
			req.Snapshot = snap
			return req, nil
		})
		o.pipeline = buildPipeline[R, S](terminal, opts)
	}
	return o
}

// Metrics sets a metrics provider. Must be called before Bind.
func (o *Once[R, S]) Metrics(provider MetricsProvider) *Once[R, S] {
	o.metrics = provider
	return o
}

// ErrorHistorySize sets the number of recent errors to retain.
// Must be called before Bind.
func (o *Once[R, S]) ErrorHistorySize(n int) *Once[R, S] {
	o.errorHistory = newErrorLog(n)
	return o
}

// Clock sets the clock used to time fetches.
// Use this with clockz.FakeClock for deterministic tests. Must be called
// before Bind.
func (o *Once[R, S]) Clock(clock clockz.Clock) *Once[R, S] {
	o.clock = clock
	return o
}

// SyncMode runs fetches on the goroutine that calls Bind or Reload instead
// of a new goroutine, so the cell is settled when the call returns.
// Must be called before Bind.
func (o *Once[R, S]) SyncMode() *Once[R, S] {
	o.syncMode = true
	return o
}

// Bind points the binder at ref.
//
// opts always replace the configured options and apply to the next fetch.
// ctx likewise replaces the binder's context on every call, and Reload
// fetches under the most recent one.
// A fetch is only issued when ref differs from the bound reference by the
// store's identity rule. A nil (zero) ref issues no fetch and leaves the
// cell idle with no value.
func (o *Once[R, S]) Bind(ctx context.Context, ref R, opts GetOptions) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.opts = opts
	o.ctx = ctx
	if o.bound && sameRef(o.store, o.ref, ref) {
		o.mu.Unlock()
		return
	}
	o.bound = true
	o.ref = ref
	o.reference = refString(ref)
	run := o.start()
	o.mu.Unlock()

	o.run(run)
}

// Reload fetches the bound reference again with the configured options.
// It does nothing when the binder is unbound, bound to a nil reference,
// or closed.
func (o *Once[R, S]) Reload() {
	o.mu.Lock()
	if o.closed || !o.bound || isNilRef(o.ref) {
		o.mu.Unlock()
		return
	}
	run := o.start()
	ctx, gen := o.ctx, o.generation
	o.mu.Unlock()

	capitan.Emit(ctx, OnceReloaded, KeyGeneration.Field(int(gen)))
	o.run(run)
}

// Close discards any outstanding fetch. Later results, Bind and Reload
// calls, and repeated Close calls have no effect.
func (o *Once[R, S]) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.generation++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	ctx := o.ctx
	o.mu.Unlock()

	capitan.Emit(ctx, BinderClosed)
}

// start begins a new generation for the bound reference and returns the
// fetch to run, or nil. Caller holds mu.
func (o *Once[R, S]) start() func() {
	o.generation++
	gen := o.generation
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}

	if isNilRef(o.ref) {
		o.write(func(c *Cell[S]) { c.Unset() })
		return nil
	}

	o.write(func(c *Cell[S]) { c.MarkLoading() })

	ctx, cancel := context.WithCancel(o.ctx)
	o.cancel = cancel
	req := &Request[R, S]{Ref: o.ref, Source: o.opts.Source, Generation: gen}

	capitan.Emit(o.ctx, OnceFetchStarted,
		KeyReference.Field(refString(req.Ref)),
		KeySource.Field(req.Source.String()),
		KeyGeneration.Field(int(gen)),
	)

	return func() { o.fetch(ctx, req) }
}

func (o *Once[R, S]) run(fn func()) {
	if fn == nil {
		return
	}
	if o.syncMode {
		fn()
		return
	}
	go fn()
}

// fetch performs one read and settles the cell if req is still current.
func (o *Once[R, S]) fetch(ctx context.Context, req *Request[R, S]) {
	start := o.clock.Now()
	snap, err := o.get(ctx, req)
	elapsed := o.clock.Since(start)

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(req.Generation) {
		return
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}

	if err != nil {
		o.setError(err)
		capitan.Emit(o.ctx, OnceFetchFailed,
			KeyReference.Field(o.reference),
			KeyError.Field(err.Error()),
			KeyDuration.Field(elapsed),
			KeyGeneration.Field(int(req.Generation)),
		)
		if o.metrics != nil {
			o.metrics.OnFetchFailure(elapsed)
		}
		return
	}

	o.setValue(snap)
	capitan.Emit(o.ctx, OnceFetchSucceeded,
		KeyReference.Field(o.reference),
		KeyDuration.Field(elapsed),
		KeyGeneration.Field(int(req.Generation)),
	)
	if o.metrics != nil {
		o.metrics.OnFetchSuccess(elapsed)
	}
}

// get runs the store fetch, through the pipeline when one is configured.
// Errors are returned as the store or middleware produced them.
func (o *Once[R, S]) get(ctx context.Context, req *Request[R, S]) (S, error) {
	if o.pipeline == nil {
		return o.store.FetchOnce(ctx, req.Ref, req.Source)
	}
	out, err := o.pipeline.Process(ctx, req)
	if err != nil {
		var zero S
		return zero, unwrapPipeline[R, S](err)
	}
	return out.Snapshot, nil
}

func unwrapPipeline[R comparable, S any](err error) error {
	for {
		var perr *pipz.Error[*Request[R, S]]
		if !errors.As(err, &perr) || perr.Err == nil {
			return err
		}
		err = perr.Err
	}
}
