package tether

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on binder events.
type MetricsProvider interface {
	// OnStatusChange is called when a binder moves its cell between statuses.
	OnStatusChange(from, to Status)

	// OnSubscribe is called when a Listener opens a subscription.
	OnSubscribe()

	// OnUnsubscribe is called when a Listener releases a subscription.
	OnUnsubscribe()

	// OnFetchSuccess is called when the current one-shot fetch succeeds.
	OnFetchSuccess(duration time.Duration)

	// OnFetchFailure is called when the current one-shot fetch fails.
	OnFetchFailure(duration time.Duration)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStatusChange(_, _ Status)      {}
func (NoOpMetricsProvider) OnSubscribe()                    {}
func (NoOpMetricsProvider) OnUnsubscribe()                  {}
func (NoOpMetricsProvider) OnFetchSuccess(_ time.Duration) {}
func (NoOpMetricsProvider) OnFetchFailure(_ time.Duration) {}
