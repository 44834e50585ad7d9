// Package tether binds asynchronous document-store reads to observable
// state cells.
//
// The core type is Cell, which holds the latest value, a loading flag, and
// an error for one asynchronous source. Binders keep a Cell in sync with a
// store reference and guarantee that stale results never reach it.
//
// # Cell
//
// A Cell moves between four statuses through explicit transitions:
//
//   - Loading: a read is outstanding (MarkLoading, or a new cell without a default)
//   - Ready: a value was delivered (SetValue)
//   - Failed: an error was delivered (SetError)
//   - Idle: nothing is loading and nothing is held (Unset, or Reset without a default)
//
// Values and errors replace each other. MarkLoading keeps the last value so
// callers can show it while a reload is in flight.
//
// # Binders
//
// Listener binds a Cell to a live subscription. Call Bind whenever the
// reference or listen options may have changed; it resubscribes only when
// they actually changed, releasing the previous subscription first.
//
// Once binds a Cell to a one-shot read with manual Reload. Every Bind to a
// new reference and every Reload starts a new generation, and only the
// latest generation may settle the cell ("last request wins").
//
// Both binders stop writing to their Cell once closed.
//
// # Stores
//
// A Store is the document store capability binders are built on: Subscribe,
// FetchOnce, and RefEqual. The zero value of the reference type is the nil
// reference and is never passed to a store. MemoryStore is an in-process
// implementation; adapters for Firestore, Redis, etcd, NATS, Consul,
// ZooKeeper, PostgreSQL, Kubernetes, and files live in pkg/.
//
// # Example
//
//	type Profile struct {
//	    Name string `json:"name"`
//	}
//
//	store := tether.NewMemoryStore()
//	profile := tether.NewDataListener[string, tether.Document, Profile](
//	    store, tether.DataOptions[Profile]{},
//	)
//	defer profile.Close()
//
//	profile.Bind(ctx, "profiles/ada", tether.ListenOptions{})
//	for {
//	    data := profile.Data()
//	    render(data.Value, data.Loading, data.Err)
//	    <-profile.Changed()
//	}
//
// # Observability
//
// Binders emit capitan signals (see signals.go) for subscriptions, fetches,
// and status transitions, and report to an optional MetricsProvider.
// Results discarded as stale are never reported.
package tether
