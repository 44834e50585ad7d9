// Package etcd provides a tether.Store for etcd keys using the native
// Watch API.
package etcd

import (
	"context"
	"fmt"

	"github.com/zoobzio/tether"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Store reads and watches etcd keys as tether.Documents. Document
// revisions are the key's ModRevision.
//
// SourceCache maps to a serializable read served by the local member,
// which may be stale. ListenCache is unsupported.
type Store struct {
	client *clientv3.Client
	codec  tether.Codec
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec Documents are decoded with. Defaults to JSON.
func WithCodec(codec tether.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// New creates a Store over client.
func New(client *clientv3.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		codec:  tether.JSONCodec{},
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

// FetchOnce reads key. A missing key yields a Document whose Exists
// reports false.
func (s *Store) FetchOnce(ctx context.Context, key string, source tether.Source) (tether.Document, error) {
	var opts []clientv3.OpOption
	if source == tether.SourceCache {
		opts = append(opts, clientv3.WithSerializable())
	}
	doc, _, err := s.get(ctx, key, opts...)
	return doc, err
}

// Subscribe delivers the current value of key, then a new Document for
// every put or delete after that revision. Watch errors are reported and
// the watch continues; a compacted watch is terminal.
func (s *Store) Subscribe(ctx context.Context, key string, opts tether.ListenOptions, onNext func(tether.Document), onError func(error)) tether.Unsubscribe {
	if opts.Source == tether.ListenCache {
		onError(tether.ErrSourceUnsupported)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		doc, rev, err := s.get(ctx, key)
		if err != nil {
			if ctx.Err() == nil {
				onError(err)
			}
			return
		}
		onNext(doc)

		watchChan := s.client.Watch(ctx, key, clientv3.WithRev(rev+1))
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchChan:
				if !ok {
					return
				}
				if err := resp.Err(); err != nil {
					if ctx.Err() != nil {
						return
					}
					onError(fmt.Errorf("watch %s: %w", key, err))
					if resp.CompactRevision != 0 {
						return
					}
					continue
				}
				for _, event := range resp.Events {
					switch event.Type {
					case clientv3.EventTypePut:
						onNext(tether.NewDocument(key, event.Kv.Value, event.Kv.ModRevision, s.codec))
					case clientv3.EventTypeDelete:
						onNext(tether.MissingDocument(key, s.codec))
					}
				}
			}
		}
	}()

	return tether.Unsubscribe(cancel)
}

// get returns the Document and the store revision it was read at.
func (s *Store) get(ctx context.Context, key string, opts ...clientv3.OpOption) (tether.Document, int64, error) {
	resp, err := s.client.Get(ctx, key, opts...)
	if err != nil {
		return tether.Document{}, 0, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return tether.MissingDocument(key, s.codec), resp.Header.Revision, nil
	}
	kv := resp.Kvs[0]
	return tether.NewDocument(key, kv.Value, kv.ModRevision, s.codec), resp.Header.Revision, nil
}

var _ tether.Store[string, tether.Document] = (*Store)(nil)
