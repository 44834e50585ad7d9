package tether

import (
	"context"
	"sync"

	"github.com/zoobzio/capitan"
)

// Listener keeps a Cell in sync with a live subscription to a reference.
//
// Bind is called whenever the caller's reference or options may have
// changed, typically on every render. It only resubscribes when the
// reference differs by the store's identity rule or the options differ.
// Close releases the subscription; no callback mutates the cell afterwards.
//
// Example:
//
//	l := tether.NewListener[string, tether.Document](store)
//	defer l.Close()
//
//	l.Bind(ctx, "users/ada", tether.ListenOptions{})
//	<-l.Changed()
//	state := l.State()
type Listener[R comparable, S any] struct {
	binder[S]
	store Subscriber[R, S]

	ref         R
	opts        ListenOptions
	subCtx      context.Context
	unsubscribe func()
}

// NewListener creates an unbound Listener. Its cell starts loading.
func NewListener[R comparable, S any](store Subscriber[R, S]) *Listener[R, S] {
	return &Listener[R, S]{
		binder: newBinder[S](),
		store:  store,
	}
}

// Metrics sets a metrics provider. Must be called before Bind.
func (l *Listener[R, S]) Metrics(provider MetricsProvider) *Listener[R, S] {
	l.metrics = provider
	return l
}

// ErrorHistorySize sets the number of recent errors to retain.
// Use 0 (default) to keep only the error held by the cell.
// Must be called before Bind.
func (l *Listener[R, S]) ErrorHistorySize(n int) *Listener[R, S] {
	l.errorHistory = newErrorLog(n)
	return l
}

// Bind points the Listener at ref with opts.
//
// If ref and opts match the current binding, Bind does nothing. Otherwise
// the previous subscription is released; a nil (zero) ref leaves the cell
// idle with no value, and any other ref marks the cell loading and opens a
// new subscription whose snapshots and errors are written to the cell.
//
// ctx bounds the new subscription and is used for emitted events. Once
// the context a subscription was opened under is done, the next Bind
// resubscribes even when ref and opts are unchanged.
func (l *Listener[R, S]) Bind(ctx context.Context, ref R, opts ListenOptions) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if l.bound && l.opts == opts && sameRef(l.store, l.ref, ref) && l.live() {
		l.ctx = ctx
		l.mu.Unlock()
		return
	}

	l.bound = true
	l.ref = ref
	l.opts = opts
	l.ctx = ctx
	l.reference = refString(ref)
	l.generation++
	gen := l.generation
	prev := l.takeUnsubscribe()

	if isNilRef(ref) {
		l.subCtx = nil
		l.write(func(c *Cell[S]) { c.Unset() })
		l.mu.Unlock()
		l.release(ctx, prev)
		capitan.Emit(ctx, ListenerCleared, KeyGeneration.Field(int(gen)))
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	l.subCtx = subCtx
	l.write(func(c *Cell[S]) { c.MarkLoading() })
	l.mu.Unlock()
	l.release(ctx, prev)

	unsub := l.store.Subscribe(subCtx, ref, opts,
		func(snap S) {
			l.deliver(gen, func() { l.setValue(snap) })
		},
		func(err error) {
			l.deliver(gen, func() { l.setError(err) })
		},
	)
	release := sync.OnceFunc(func() {
		if unsub != nil {
			unsub()
		}
		cancel()
	})

	l.mu.Lock()
	if !l.current(gen) {
		// Superseded or closed while the store was subscribing.
		l.mu.Unlock()
		release()
		return
	}
	l.unsubscribe = release
	l.mu.Unlock()

	capitan.Emit(ctx, ListenerSubscribed,
		KeyReference.Field(refString(ref)),
		KeySource.Field(opts.Source.String()),
		KeyGeneration.Field(int(gen)),
	)
	if l.metrics != nil {
		l.metrics.OnSubscribe()
	}
}

// Close releases the active subscription. Later callbacks, Bind calls, and
// repeated Close calls have no effect.
func (l *Listener[R, S]) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.generation++
	ctx := l.ctx
	prev := l.takeUnsubscribe()
	l.mu.Unlock()

	l.release(ctx, prev)
	capitan.Emit(ctx, BinderClosed)
}

// live reports whether the current binding still has a usable
// subscription. A nil ref needs none. Caller holds mu.
func (l *Listener[R, S]) live() bool {
	if isNilRef(l.ref) {
		return true
	}
	return l.subCtx != nil && l.subCtx.Err() == nil
}

// takeUnsubscribe detaches the active unsubscribe function. Caller holds mu.
func (l *Listener[R, S]) takeUnsubscribe() func() {
	prev := l.unsubscribe
	l.unsubscribe = nil
	return prev
}

// release runs an unsubscribe function outside mu, so stores may wait for
// their callbacks to return.
func (l *Listener[R, S]) release(ctx context.Context, unsub func()) {
	if unsub == nil {
		return
	}
	unsub()
	capitan.Emit(ctx, ListenerUnsubscribed)
	if l.metrics != nil {
		l.metrics.OnUnsubscribe()
	}
}
