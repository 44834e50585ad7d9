// Package nats provides a tether.Store for NATS JetStream key/value
// buckets using the native Watch API.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/tether"
)

// Store reads and watches keys of a single bucket as tether.Documents.
// Document revisions are the entry's stream sequence. JetStream has no
// client cache, so SourceCache and ListenCache are unsupported.
type Store struct {
	kv    jetstream.KeyValue
	codec tether.Codec
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec Documents are decoded with. Defaults to JSON.
func WithCodec(codec tether.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// New creates a Store over the bucket kv.
func New(kv jetstream.KeyValue, opts ...Option) *Store {
	s := &Store{
		kv:    kv,
		codec: tether.JSONCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefEqual reports whether two keys are the same.
func (*Store) RefEqual(a, b string) bool {
	return a == b
}

// FetchOnce reads key. A missing or deleted key yields a Document whose
// Exists reports false.
func (s *Store) FetchOnce(ctx context.Context, key string, source tether.Source) (tether.Document, error) {
	if source == tether.SourceCache {
		return tether.Document{}, tether.ErrSourceUnsupported
	}
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return tether.MissingDocument(key, s.codec), nil
	}
	if err != nil {
		return tether.Document{}, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return s.document(key, entry), nil
}

// Subscribe delivers the current value of key, then a new Document for
// every put, delete or purge.
func (s *Store) Subscribe(ctx context.Context, key string, opts tether.ListenOptions, onNext func(tether.Document), onError func(error)) tether.Unsubscribe {
	if opts.Source == tether.ListenCache {
		onError(tether.ErrSourceUnsupported)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		watcher, err := s.kv.Watch(ctx, key)
		if err != nil {
			if ctx.Err() == nil {
				onError(fmt.Errorf("failed to watch key %s: %w", key, err))
			}
			return
		}
		defer watcher.Stop()

		seen := false
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of initial values
				if entry == nil {
					if !seen {
						onNext(tether.MissingDocument(key, s.codec))
					}
					seen = true
					continue
				}
				seen = true
				onNext(s.document(key, entry))
			}
		}
	}()

	return tether.Unsubscribe(cancel)
}

func (s *Store) document(key string, entry jetstream.KeyValueEntry) tether.Document {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return tether.MissingDocument(key, s.codec)
	}
	return tether.NewDocument(key, entry.Value(), int64(entry.Revision()), s.codec)
}

var _ tether.Store[string, tether.Document] = (*Store)(nil)
