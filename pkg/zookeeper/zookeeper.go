// Package zookeeper provides a tether.Store for ZooKeeper nodes using
// one-shot watches.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/tether"
)

// DefaultRetryDelay is how long a subscription waits after a failed read
// before re-arming its watch.
const DefaultRetryDelay = time.Second

// Store reads and watches ZooKeeper nodes as tether.Documents. References
// are node paths and Document revisions are the node's Mzxid.
//
// Reads are served by the connected server, which may lag the leader.
// SourceServer issues a sync first so the read reflects every committed
// write. Subscriptions ignore ListenOptions.Source.
type Store struct {
	conn       *zk.Conn
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

// WithRetryDelay sets the pause after a failed read in a subscription.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// New creates a Store over conn.
func New(conn *zk.Conn, opts ...Option) *Store {
	s := &Store{
		conn:       conn,
		codec:      tether.JSONCodec{},
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefEqual reports whether two paths are the same.
func (*Store) RefEqual(a, b string) bool {
	return a == b
}

// FetchOnce reads the node at path. A missing node yields a Document
// whose Exists reports false. The ZooKeeper client has no context support,
// so ctx is only checked before the read.
func (s *Store) FetchOnce(ctx context.Context, path string, source tether.Source) (tether.Document, error) {
	if err := ctx.Err(); err != nil {
		return tether.Document{}, err
	}
	if source == tether.SourceServer {
		if _, err := s.conn.Sync(path); err != nil && !errors.Is(err, zk.ErrNoNode) {
			return tether.Document{}, fmt.Errorf("failed to sync %s: %w", path, err)
		}
	}
	data, stat, err := s.conn.Get(path)
	if errors.Is(err, zk.ErrNoNode) {
		return tether.MissingDocument(path, s.codec), nil
	}
	if err != nil {
		return tether.Document{}, fmt.Errorf("failed to get node %s: %w", path, err)
	}
	return tether.NewDocument(path, data, stat.Mzxid, s.codec), nil
}

// Subscribe delivers the current contents of path, then a new Document
// each time the node is created, changed or deleted.
func (s *Store) Subscribe(ctx context.Context, path string, _ tether.ListenOptions, onNext func(tether.Document), onError func(error)) tether.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			events, err := s.watch(path, onNext)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				onError(err)
				if errors.Is(err, zk.ErrClosing) || errors.Is(err, zk.ErrConnectionClosed) {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.retryDelay):
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-events:
				// Watches fire once; loop to read and re-arm.
			}
		}
	}()

	return tether.Unsubscribe(cancel)
}

// watch reads path, delivers the result and returns the armed watch.
func (s *Store) watch(path string, onNext func(tether.Document)) (<-chan zk.Event, error) {
	data, stat, events, err := s.conn.GetW(path)
	if err == nil {
		onNext(tether.NewDocument(path, data, stat.Mzxid, s.codec))
		return events, nil
	}
	if !errors.Is(err, zk.ErrNoNode) {
		return nil, fmt.Errorf("failed to get node %s: %w", path, err)
	}

	exists, _, events, err := s.conn.ExistsW(path)
	if err != nil {
		return nil, fmt.Errorf("failed to watch node %s: %w", path, err)
	}
	if exists {
		// Created between the two calls; the exists watch fires on the
		// next change, so read again now.
		return s.watch(path, onNext)
	}
	onNext(tether.MissingDocument(path, s.codec))
	return events, nil
}

var _ tether.Store[string, tether.Document] = (*Store)(nil)
