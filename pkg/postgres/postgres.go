// Package postgres provides a tether.Store for rows of a key/value table
// in PostgreSQL using LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/tether"
)

// DefaultRetryDelay is how long a subscription waits before reconnecting
// after its listening connection fails.
const DefaultRetryDelay = time.Second

// Store reads and watches rows of a (key TEXT, value BYTEA) table as
// tether.Documents. Subscriptions need a trigger that sends the row key
// on the notification channel for every insert, update and delete;
// Install creates the table and trigger. Document revisions are the row's
// xmin. SourceCache and ListenCache are unsupported.
type Store struct {
	pool       *pgxpool.Pool
	channel    string
	table      string
	codec      tether.Codec
	retryDelay time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the table name to query for values.
// Defaults to "config".
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// WithCodec sets the codec Documents are decoded with. Defaults to JSON.
func WithCodec(codec tether.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// WithRetryDelay sets the pause before a failed subscription reconnects.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// New creates a Store over pool. The channel must match the one used in
// pg_notify by the table trigger.
func New(pool *pgxpool.Pool, channel string, opts ...Option) *Store {
	s := &Store{
		pool:       pool,
		channel:    channel,
		table:      "config",
		codec:      tether.JSONCodec{},
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Install creates the table, notification function and trigger if they do
// not already exist.
func (s *Store) Install(ctx context.Context) error {
	table := pgx.Identifier{s.table}.Sanitize()
	fn := pgx.Identifier{"notify_" + s.table + "_change"}.Sanitize()
	trigger := pgx.Identifier{s.table + "_change_trigger"}.Sanitize()
	channel := "'" + strings.ReplaceAll(s.channel, "'", "''") + "'"

	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		);

		CREATE OR REPLACE FUNCTION %[2]s() RETURNS trigger AS $$
		BEGIN
			IF TG_OP = 'DELETE' THEN
				PERFORM pg_notify(%[4]s, OLD.key);
				RETURN OLD;
			END IF;
			PERFORM pg_notify(%[4]s, NEW.key);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS %[3]s ON %[1]s;
		CREATE TRIGGER %[3]s
			AFTER INSERT OR UPDATE OR DELETE ON %[1]s
			FOR EACH ROW EXECUTE FUNCTION %[2]s();
	`, table, fn, trigger, channel)

	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to install table %s: %w", s.table, err)
	}
	return nil
}

// RefEqual reports whether two keys are the same.
func (*Store) RefEqual(a, b string) bool {
	return a == b
}

// FetchOnce reads the row for key. A missing row yields a Document whose
// Exists reports false.
func (s *Store) FetchOnce(ctx context.Context, key string, source tether.Source) (tether.Document, error) {
	if source == tether.SourceCache {
		return tether.Document{}, tether.ErrSourceUnsupported
	}
	return s.fetch(ctx, key)
}

// Subscribe delivers the current row for key, then a new Document each
// time a notification names it. A failed listening connection is reported
// through onError and re-established, re-reading the row.
func (s *Store) Subscribe(ctx context.Context, key string, opts tether.ListenOptions, onNext func(tether.Document), onError func(error)) tether.Unsubscribe {
	if opts.Source == tether.ListenCache {
		onError(tether.ErrSourceUnsupported)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			err := s.listen(ctx, key, onNext)
			if ctx.Err() != nil {
				return
			}
			onError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
		}
	}()

	return tether.Unsubscribe(cancel)
}

// listen holds a connection for LISTEN until ctx ends or the connection
// fails.
func (s *Store) listen(ctx context.Context, key string, onNext func(tether.Document)) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on channel %s: %w", s.channel, err)
	}

	doc, err := s.fetch(ctx, key)
	if err != nil {
		return err
	}
	onNext(doc)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification on %s: %w", s.channel, err)
		}
		if notification.Payload != key {
			continue
		}
		doc, err := s.fetch(ctx, key)
		if err != nil {
			return err
		}
		onNext(doc)
	}
}

// fetch retrieves the current row from the table.
func (s *Store) fetch(ctx context.Context, key string) (tether.Document, error) {
	var (
		value    []byte
		revision int64
	)
	query := fmt.Sprintf("SELECT value, xmin::text::bigint FROM %s WHERE key = $1", pgx.Identifier{s.table}.Sanitize())
	err := s.pool.QueryRow(ctx, query, key).Scan(&value, &revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return tether.MissingDocument(key, s.codec), nil
	}
	if err != nil {
		return tether.Document{}, fmt.Errorf("failed to fetch key %s: %w", key, err)
	}
	return tether.NewDocument(key, value, revision, s.codec), nil
}

var _ tether.Store[string, tether.Document] = (*Store)(nil)
