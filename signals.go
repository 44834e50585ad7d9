package tether

import "github.com/zoobzio/capitan"

// Listener signals.
var (
	// ListenerSubscribed is emitted when a Listener opens a subscription.
	ListenerSubscribed = capitan.NewSignal(
		"tether.listener.subscribed",
		"Listener subscription opened",
	)

	// ListenerUnsubscribed is emitted when a Listener releases a subscription.
	ListenerUnsubscribed = capitan.NewSignal(
		"tether.listener.unsubscribed",
		"Listener subscription released",
	)

	// ListenerCleared is emitted when a Listener is bound to a nil reference.
	ListenerCleared = capitan.NewSignal(
		"tether.listener.cleared",
		"Listener bound to nil reference",
	)
)

// One-shot fetch signals.
var (
	// OnceFetchStarted is emitted when a one-shot fetch is issued.
	OnceFetchStarted = capitan.NewSignal(
		"tether.once.fetch.started",
		"One-shot fetch started",
	)

	// OnceFetchSucceeded is emitted when the current fetch delivers a snapshot.
	OnceFetchSucceeded = capitan.NewSignal(
		"tether.once.fetch.succeeded",
		"One-shot fetch succeeded",
	)

	// OnceFetchFailed is emitted when the current fetch fails.
	OnceFetchFailed = capitan.NewSignal(
		"tether.once.fetch.failed",
		"One-shot fetch failed",
	)

	// OnceReloaded is emitted when Reload issues a new fetch.
	OnceReloaded = capitan.NewSignal(
		"tether.once.reloaded",
		"One-shot fetch reloaded",
	)
)

// Shared binder signals.
var (
	// BinderClosed is emitted when a binder is closed.
	BinderClosed = capitan.NewSignal(
		"tether.binder.closed",
		"Binder closed",
	)

	// CellStatusChanged is emitted when a binder moves its cell between statuses.
	CellStatusChanged = capitan.NewSignal(
		"tether.cell.status.changed",
		"Cell status transition",
	)
)
