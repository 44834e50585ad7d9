// Package file provides a tether.Store backed by files on the local
// filesystem. References are file paths and subscriptions use fsnotify.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/zoobzio/tether"
)

// Store reads and watches files as tether.Documents.
//
// The parent directory of a watched file is observed rather than the file
// itself, so a file that is created, removed or atomically replaced after
// the subscription starts is still tracked.
type Store struct {
	codec tether.Codec
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec Documents are decoded with. By default the codec
// follows the file extension (see tether.CodecForPath).
func WithCodec(codec tether.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// New creates a file Store.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) codecFor(path string) tether.Codec {
	if s.codec != nil {
		return s.codec
	}
	return tether.CodecForPath(path)
}

// RefEqual reports whether two paths name the same file.
func (*Store) RefEqual(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// FetchOnce reads the file at path. A missing file yields a Document whose
// Exists reports false. Files have no cache, so SourceCache is unsupported.
func (s *Store) FetchOnce(ctx context.Context, path string, source tether.Source) (tether.Document, error) {
	if source == tether.SourceCache {
		return tether.Document{}, tether.ErrSourceUnsupported
	}
	if err := ctx.Err(); err != nil {
		return tether.Document{}, err
	}
	return s.read(path)
}

// Subscribe delivers the current contents of path, then a new Document on
// every write, create, remove or rename of the file.
func (s *Store) Subscribe(ctx context.Context, path string, opts tether.ListenOptions, onNext func(tether.Document), onError func(error)) tether.Unsubscribe {
	if opts.Source == tether.ListenCache {
		onError(tether.ErrSourceUnsupported)
		return func() {}
	}

	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		onError(fmt.Errorf("failed to create fsnotify watcher: %w", err))
		return func() {}
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		onError(fmt.Errorf("failed to watch directory of %s: %w", path, err))
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer watcher.Close()

		s.emit(ctx, path, onNext, onError)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				s.emit(ctx, path, onNext, onError)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if ctx.Err() == nil {
					onError(err)
				}
			}
		}
	}()

	return tether.Unsubscribe(cancel)
}

func (s *Store) emit(ctx context.Context, path string, onNext func(tether.Document), onError func(error)) {
	doc, err := s.read(path)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		onError(err)
		return
	}
	onNext(doc)
}

func (s *Store) read(path string) (tether.Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return tether.MissingDocument(path, s.codecFor(path)), nil
	}
	if err != nil {
		return tether.Document{}, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return tether.NewDocument(path, data, 0, s.codecFor(path)), nil
}

var _ tether.Store[string, tether.Document] = (*Store)(nil)
