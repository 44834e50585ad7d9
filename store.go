package tether

import (
	"context"
	"errors"
)

// ErrSourceUnsupported is returned by stores that cannot serve the requested
// Source or ListenSource, such as backends without a local cache.
var ErrSourceUnsupported = errors.New("tether: source not supported by store")

// Source selects which fetch primitive a one-shot read uses.
type Source int

const (
	// SourceDefault lets the store decide, typically server with cache fallback.
	SourceDefault Source = iota
	// SourceCache reads only from the store's local cache.
	SourceCache
	// SourceServer always reads from the server.
	SourceServer
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceCache:
		return "cache"
	case SourceServer:
		return "server"
	default:
		return "unknown"
	}
}

// ListenSource selects where a subscription reads from.
type ListenSource int

const (
	// ListenDefault listens to both cache and server.
	ListenDefault ListenSource = iota
	// ListenCache listens to the local cache only.
	ListenCache
)

// String returns the string representation of the listen source.
func (s ListenSource) String() string {
	switch s {
	case ListenDefault:
		return "default"
	case ListenCache:
		return "cache"
	default:
		return "unknown"
	}
}

// ListenOptions configure a subscription. The struct is comparable; a change
// in any field causes a Listener to resubscribe.
type ListenOptions struct {
	IncludeMetadataChanges bool
	Source                 ListenSource
}

// GetOptions configure a one-shot fetch.
type GetOptions struct {
	Source Source
}

// ServerTimestampBehavior controls how pending server timestamps decode.
type ServerTimestampBehavior int

const (
	ServerTimestampsNone ServerTimestampBehavior = iota
	ServerTimestampsEstimate
	ServerTimestampsPrevious
)

// SnapshotOptions are passed to Snapshot.Decode.
type SnapshotOptions struct {
	ServerTimestamps ServerTimestampBehavior
}

// Snapshot is a point-in-time view of a store record.
type Snapshot interface {
	// Exists reports whether the record existed when the snapshot was taken.
	Exists() bool

	// Decode stores the record payload in the value pointed to by v.
	Decode(v any, opts SnapshotOptions) error
}

// Unsubscribe stops a subscription. Binders call it at most once.
type Unsubscribe func()

// Referencer compares references by the store's identity rule.
type Referencer[R comparable] interface {
	RefEqual(a, b R) bool
}

// Subscriber opens change subscriptions on references.
type Subscriber[R comparable, S any] interface {
	Referencer[R]

	// Subscribe delivers snapshots of ref to onNext until the returned
	// function is called or ctx is canceled. Failures, including failures
	// to establish the subscription, are reported through onError.
	// Callbacks may run on any goroutine.
	Subscribe(ctx context.Context, ref R, opts ListenOptions, onNext func(S), onError func(error)) Unsubscribe
}

// Getter performs one-shot reads of references.
type Getter[R comparable, S any] interface {
	Referencer[R]

	// FetchOnce reads ref using the given source. It may block.
	FetchOnce(ctx context.Context, ref R, source Source) (S, error)
}

// Store is the full document store capability.
type Store[R comparable, S any] interface {
	Subscriber[R, S]
	Getter[R, S]
}

// sameRef compares two references, treating the zero value as the nil
// reference so stores never see it.
func sameRef[R comparable](r Referencer[R], a, b R) bool {
	var zero R
	aNil, bNil := a == zero, b == zero
	if aNil || bNil {
		return aNil == bNil
	}
	return r.RefEqual(a, b)
}

func isNilRef[R comparable](ref R) bool {
	var zero R
	return ref == zero
}
