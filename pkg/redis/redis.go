// Package redis provides a tether.Store for Redis string keys using
// keyspace notifications.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/tether"
)

// Store reads and watches Redis keys as tether.Documents. Subscriptions
// require keyspace notifications to be enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
//
// Redis has no client cache, so SourceCache and ListenCache fail with
// tether.ErrSourceUnsupported.
type Store struct {
	client *redis.Client
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
func New(client *redis.Client, opts ...Option) *Store {
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
	if source == tether.SourceCache {
		return tether.Document{}, tether.ErrSourceUnsupported
	}
	return s.get(ctx, key)
}

// Subscribe delivers the current value of key, then a new Document each
// time a keyspace notification reports it written or removed.
func (s *Store) Subscribe(ctx context.Context, key string, opts tether.ListenOptions, onNext func(tether.Document), onError func(error)) tether.Unsubscribe {
	if opts.Source == tether.ListenCache {
		onError(tether.ErrSourceUnsupported)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		channel := fmt.Sprintf("__keyspace@%d__:%s", s.client.Options().DB, key)
		pubsub := s.client.Subscribe(ctx, channel)
		defer pubsub.Close()

		// Subscribe before the initial read so no write is lost in between.
		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() == nil {
				onError(fmt.Errorf("failed to subscribe to keyspace notifications: %w", err))
			}
			return
		}

		s.emit(ctx, key, onNext, onError)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				switch msg.Payload {
				case "set", "mset", "setex", "psetex", "setnx", "setrange", "append", "incrby", "incrbyfloat", "rename_to", "copy_to", "restore":
					s.emit(ctx, key, onNext, onError)
				case "del", "expired", "evicted", "rename_from":
					onNext(tether.MissingDocument(key, s.codec))
				}
			}
		}
	}()

	return tether.Unsubscribe(cancel)
}

func (s *Store) emit(ctx context.Context, key string, onNext func(tether.Document), onError func(error)) {
	doc, err := s.get(ctx, key)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		onError(err)
		return
	}
	onNext(doc)
}

func (s *Store) get(ctx context.Context, key string) (tether.Document, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return tether.MissingDocument(key, s.codec), nil
	}
	if err != nil {
		return tether.Document{}, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return tether.NewDocument(key, val, 0, s.codec), nil
}

var _ tether.Store[string, tether.Document] = (*Store)(nil)
