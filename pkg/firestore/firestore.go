// Package firestore provides tether stores for Firestore documents and
// collections using realtime listeners.
package firestore

import (
	"context"
	"fmt"
	"reflect"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/tether"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Snapshot is a tether.Snapshot over a Firestore document snapshot.
// The zero value reports a document that does not exist.
type Snapshot struct {
	*firestore.DocumentSnapshot
}

// Exists reports whether the document existed when the snapshot was taken.
func (s Snapshot) Exists() bool {
	return s.DocumentSnapshot != nil && s.DocumentSnapshot.Exists()
}

// Decode populates v with the document fields. The Go client resolves
// server timestamps before delivering a snapshot, so opts has no effect.
func (s Snapshot) Decode(v any, _ tether.SnapshotOptions) error {
	if !s.Exists() {
		return tether.ErrNoDocument
	}
	if err := s.DataTo(v); err != nil {
		return fmt.Errorf("decode %s: %w", s.Ref.Path, err)
	}
	return nil
}

// Store subscribes to and fetches single documents. References are
// *firestore.DocumentRef values compared by path.
//
// The Go client has no local persistence, so SourceCache and ListenCache
// fail with tether.ErrSourceUnsupported. Metadata-only changes are never
// delivered, so ListenOptions.IncludeMetadataChanges has no effect.
type Store struct{}

// New creates a document Store.
func New() *Store {
	return &Store{}
}

// RefEqual reports whether two references name the same document.
func (*Store) RefEqual(a, b *firestore.DocumentRef) bool {
	return a.Path == b.Path
}

// FetchOnce reads the document. A missing document is not an error; the
// returned Snapshot reports Exists false.
func (*Store) FetchOnce(ctx context.Context, ref *firestore.DocumentRef, source tether.Source) (Snapshot, error) {
	if source == tether.SourceCache {
		return Snapshot{}, tether.ErrSourceUnsupported
	}
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Snapshot{snap}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to get document %s: %w", ref.Path, err)
	}
	return Snapshot{snap}, nil
}

// Subscribe starts a realtime listener on the document. Listener errors
// are terminal: onError is called once and no further snapshots follow.
func (*Store) Subscribe(ctx context.Context, ref *firestore.DocumentRef, opts tether.ListenOptions, onNext func(Snapshot), onError func(error)) tether.Unsubscribe {
	if opts.Source == tether.ListenCache {
		onError(tether.ErrSourceUnsupported)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		snapshots := ref.Snapshots(ctx)
		defer snapshots.Stop()

		for {
			snap, err := snapshots.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					onError(fmt.Errorf("listen %s: %w", ref.Path, err))
				}
				return
			}
			onNext(Snapshot{snap})
		}
	}()

	return tether.Unsubscribe(cancel)
}

// Documents is a tether.Snapshot over the result of a collection query.
// A query result always exists, even when it holds no documents.
type Documents struct {
	Docs []*firestore.DocumentSnapshot
}

// Exists always reports true.
func (Documents) Exists() bool {
	return true
}

// Decode populates v, which must be a pointer to a slice, with one element
// per document in query order.
func (d Documents) Decode(v any, _ tether.SnapshotOptions) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("firestore: decode target must be a pointer to a slice, got %T", v)
	}
	slice := rv.Elem()
	out := reflect.MakeSlice(slice.Type(), 0, len(d.Docs))
	for _, doc := range d.Docs {
		elem := reflect.New(slice.Type().Elem())
		if err := doc.DataTo(elem.Interface()); err != nil {
			return fmt.Errorf("decode %s: %w", doc.Ref.Path, err)
		}
		out = reflect.Append(out, elem.Elem())
	}
	slice.Set(out)
	return nil
}

// Collection subscribes to and fetches whole collections. References are
// *firestore.CollectionRef values compared by path.
type Collection struct{}

// NewCollection creates a collection Store.
func NewCollection() *Collection {
	return &Collection{}
}

// RefEqual reports whether two references name the same collection.
func (*Collection) RefEqual(a, b *firestore.CollectionRef) bool {
	return a.Path == b.Path
}

// FetchOnce reads every document in the collection.
func (*Collection) FetchOnce(ctx context.Context, ref *firestore.CollectionRef, source tether.Source) (Documents, error) {
	if source == tether.SourceCache {
		return Documents{}, tether.ErrSourceUnsupported
	}
	docs, err := ref.Documents(ctx).GetAll()
	if err != nil {
		return Documents{}, fmt.Errorf("failed to query collection %s: %w", ref.Path, err)
	}
	return Documents{Docs: docs}, nil
}

// Subscribe starts a realtime listener on the collection.
func (*Collection) Subscribe(ctx context.Context, ref *firestore.CollectionRef, opts tether.ListenOptions, onNext func(Documents), onError func(error)) tether.Unsubscribe {
	if opts.Source == tether.ListenCache {
		onError(tether.ErrSourceUnsupported)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		snapshots := ref.Snapshots(ctx)
		defer snapshots.Stop()

		for {
			qs, err := snapshots.Next()
			if err == nil {
				var docs []*firestore.DocumentSnapshot
				docs, err = qs.Documents.GetAll()
				if err == nil {
					onNext(Documents{Docs: docs})
					continue
				}
			}
			if ctx.Err() == nil && status.Code(err) != codes.Canceled {
				onError(fmt.Errorf("listen %s: %w", ref.Path, err))
			}
			return
		}
	}()

	return tether.Unsubscribe(cancel)
}

var (
	_ tether.Store[*firestore.DocumentRef, Snapshot]     = (*Store)(nil)
	_ tether.Store[*firestore.CollectionRef, Documents] = (*Collection)(nil)
	_ tether.Snapshot                                   = Snapshot{}
	_ tether.Snapshot                                   = Documents{}
)
