package tether

// Request carries a one-shot fetch through the Once pipeline.
// Middleware may inspect or rewrite Ref and Source before the store is
// called, and Snapshot after it returns.
type Request[R comparable, S any] struct {
	// Ref is the reference being fetched. It is never the nil reference.
	Ref R

	// Source is the configured fetch source.
	Source Source

	// Generation identifies the binder request this fetch belongs to.
	Generation uint64

	// Snapshot is the fetched snapshot, set by the terminal stage.
	Snapshot S
}
