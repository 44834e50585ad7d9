package tether

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Option configures the fetch pipeline of a Once binder.
// Pipeline options wrap the store's FetchOnce with middleware such as
// timeouts and circuit breaking. There is no retry option; callers retry
// through Reload.
//
// Instance configuration (metrics, clock, sync mode) is handled via
// chainable methods on Once before the first Bind.
type Option[R comparable, S any] func(pipz.Chainable[*Request[R, S]]) pipz.Chainable[*Request[R, S]]

var (
	fetchID          = pipz.NewIdentity("tether:fetch", "Store one-shot fetch")
	timeoutID        = pipz.NewIdentity("tether:timeout", "Fetch timeout")
	circuitBreakerID = pipz.NewIdentity("tether:circuit-breaker", "Fetch circuit breaker")
	fallbackID       = pipz.NewIdentity("tether:fallback", "Fetch fallback chain")
	errorHandlerID   = pipz.NewIdentity("tether:error-handler", "Fetch error observer")
	rateLimiterID    = pipz.NewIdentity("tether:rate-limiter", "Fetch rate limiter")
	middlewareID     = pipz.NewIdentity("tether:middleware", "Fetch middleware sequence")
)

func buildPipeline[R comparable, S any](terminal pipz.Chainable[*Request[R, S]], opts []Option[R, S]) pipz.Chainable[*Request[R, S]] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// -----------------------------------------------------------------------------
// Pipeline Options - Wrapping (With*)
// -----------------------------------------------------------------------------

// WithTimeout fails a fetch that takes longer than d. The store sees a
// canceled context and the cell receives the timeout error.
func WithTimeout[R comparable, S any](d time.Duration) Option[R, S] {
	return func(p pipz.Chainable[*Request[R, S]]) pipz.Chainable[*Request[R, S]] {
		return pipz.NewTimeout(timeoutID, p, d)
	}
}

// WithCircuitBreaker rejects fetches immediately after 'failures'
// consecutive failures, until 'recovery' has passed.
func WithCircuitBreaker[R comparable, S any](failures int, recovery time.Duration) Option[R, S] {
	return func(p pipz.Chainable[*Request[R, S]]) pipz.Chainable[*Request[R, S]] {
		return pipz.NewCircuitBreaker(circuitBreakerID, p, failures, recovery)
	}
}

// WithFallback tries each fallback in order when the store fetch fails,
// for example a second store holding a replica.
func WithFallback[R comparable, S any](fallbacks ...pipz.Chainable[*Request[R, S]]) Option[R, S] {
	return func(p pipz.Chainable[*Request[R, S]]) pipz.Chainable[*Request[R, S]] {
		all := append([]pipz.Chainable[*Request[R, S]]{p}, fallbacks...)
		return pipz.NewFallback(fallbackID, all...)
	}
}

// WithErrorHandler observes fetch errors. The error still reaches the cell.
func WithErrorHandler[R comparable, S any](handler pipz.Chainable[*pipz.Error[*Request[R, S]]]) Option[R, S] {
	return func(p pipz.Chainable[*Request[R, S]]) pipz.Chainable[*Request[R, S]] {
		return pipz.NewHandle(errorHandlerID, p, handler)
	}
}

// WithRateLimit throttles fetches to rate per second with the given burst.
// Fetches wait for a token rather than failing.
func WithRateLimit[R comparable, S any](rate float64, burst int) Option[R, S] {
	return func(p pipz.Chainable[*Request[R, S]]) pipz.Chainable[*Request[R, S]] {
		return pipz.NewRateLimiter(rateLimiterID, rate, burst, p)
	}
}

// WithMiddleware runs processors in order before the store fetch.
//
// Example:
//
//	tether.NewOnce[string, tether.Document](
//	    store,
//	    tether.WithMiddleware(
//	        tether.UseEffect[string, tether.Document](auditID, auditFn),
//	    ),
//	    tether.WithTimeout[string, tether.Document](2*time.Second),
//	)
func WithMiddleware[R comparable, S any](processors ...pipz.Chainable[*Request[R, S]]) Option[R, S] {
	return func(p pipz.Chainable[*Request[R, S]]) pipz.Chainable[*Request[R, S]] {
		all := make([]pipz.Chainable[*Request[R, S]], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence(middlewareID, all...)
	}
}

// -----------------------------------------------------------------------------
// Middleware Processors (Use*)
// -----------------------------------------------------------------------------

// UseTransform creates a processor that rewrites the request and cannot fail.
func UseTransform[R comparable, S any](identity pipz.Identity, fn func(context.Context, *Request[R, S]) *Request[R, S]) pipz.Chainable[*Request[R, S]] {
	return pipz.Transform(identity, fn)
}

// UseApply creates a processor that may rewrite the request or fail it.
// A failure is delivered to the cell like a store error.
func UseApply[R comparable, S any](identity pipz.Identity, fn func(context.Context, *Request[R, S]) (*Request[R, S], error)) pipz.Chainable[*Request[R, S]] {
	return pipz.Apply(identity, fn)
}

// UseEffect creates a processor that performs a side effect, such as
// auditing, and passes the request through unchanged.
func UseEffect[R comparable, S any](identity pipz.Identity, fn func(context.Context, *Request[R, S]) error) pipz.Chainable[*Request[R, S]] {
	return pipz.Effect(identity, fn)
}
