// Package consul provides a tether.Store for Consul KV using blocking
// queries.
package consul

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/tether"
)

// DefaultRetryDelay is how long a subscription waits after a failed
// blocking query before issuing the next one.
const DefaultRetryDelay = time.Second

// Store reads and watches Consul KV keys as tether.Documents. Document
// revisions are the pair's ModifyIndex.
//
// SourceCache maps to a stale read that any server may answer and
// SourceServer to a consistent read through the leader. ListenCache
// subscriptions issue stale blocking queries.
type Store struct {
	client     *api.Client
	codec      tether.Codec
	retryDelay time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec Documents are decoded with. Defaults to JSON.
func WithCodec(codec tether.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// WithRetryDelay sets the pause after a failed blocking query.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// New creates a Store over client.
func New(client *api.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		codec:      tether.JSONCodec{},
		retryDelay: DefaultRetryDelay,
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
	q := &api.QueryOptions{}
	switch source {
	case tether.SourceCache:
		q.AllowStale = true
	case tether.SourceServer:
		q.RequireConsistent = true
	}
	doc, _, err := s.get(ctx, key, q)
	return doc, err
}

// Subscribe delivers the current value of key, then a new Document each
// time its index advances. Failed queries are reported through onError and
// retried after the configured delay.
func (s *Store) Subscribe(ctx context.Context, key string, opts tether.ListenOptions, onNext func(tether.Document), onError func(error)) tether.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		var lastIndex uint64
		first := true
		for {
			q := &api.QueryOptions{
				WaitIndex:  lastIndex,
				AllowStale: opts.Source == tether.ListenCache,
			}
			doc, index, err := s.get(ctx, key, q)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				onError(err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.retryDelay):
				}
				continue
			}

			// The index may go backwards after a snapshot restore.
			if index < lastIndex {
				lastIndex = 0
				continue
			}
			if first || index > lastIndex {
				first = false
				lastIndex = index
				onNext(doc)
			}
		}
	}()

	return tether.Unsubscribe(cancel)
}

// get returns the Document and the index it was read at.
func (s *Store) get(ctx context.Context, key string, q *api.QueryOptions) (tether.Document, uint64, error) {
	pair, meta, err := s.client.KV().Get(key, q.WithContext(ctx))
	if err != nil {
		return tether.Document{}, 0, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if pair == nil {
		return tether.MissingDocument(key, s.codec), meta.LastIndex, nil
	}
	return tether.NewDocument(key, pair.Value, int64(pair.ModifyIndex), s.codec), meta.LastIndex, nil
}

var _ tether.Store[string, tether.Document] = (*Store)(nil)
