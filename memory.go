package tether

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store of byte Documents keyed by string.
// It is useful for tests, examples, and local prototyping.
//
// Subscribers receive the current document immediately and then the latest
// document after each change. Changes that arrive faster than a subscriber
// consumes them are coalesced.
type MemoryStore struct {
	codec Codec

	mu       sync.Mutex
	records  map[string]memoryRecord
	subs     map[string]map[*memorySub]struct{}
	revision int64
}

type memoryRecord struct {
	data     []byte
	revision int64
}

type memorySub struct {
	notify chan struct{}
}

// NewMemoryStore creates an empty MemoryStore that decodes with JSONCodec.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codec:   JSONCodec{},
		records: make(map[string]memoryRecord),
		subs:    make(map[string]map[*memorySub]struct{}),
	}
}

// Codec sets the codec attached to delivered documents.
func (m *MemoryStore) Codec(codec Codec) *MemoryStore {
	m.codec = codec
	return m
}

// Set stores data under key and notifies subscribers of key.
func (m *MemoryStore) Set(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revision++
	m.records[key] = memoryRecord{data: append([]byte(nil), data...), revision: m.revision}
	m.notify(key)
}

// Delete removes key and notifies subscribers of key.
func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; !ok {
		return
	}
	delete(m.records, key)
	m.notify(key)
}

// notify wakes every subscriber of key. Caller holds mu.
func (m *MemoryStore) notify(key string) {
	for sub := range m.subs[key] {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

func (m *MemoryStore) document(key string) Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return MissingDocument(key, m.codec)
	}
	return NewDocument(key, rec.data, rec.revision, m.codec)
}

// RefEqual compares keys.
func (*MemoryStore) RefEqual(a, b string) bool {
	return a == b
}

// FetchOnce returns the current document for key. All sources read the same
// in-process map.
func (m *MemoryStore) FetchOnce(ctx context.Context, key string, _ Source) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	return m.document(key), nil
}

// Subscribe delivers documents for key on a dedicated goroutine until the
// returned function is called or ctx is canceled. onError is never called.
func (m *MemoryStore) Subscribe(ctx context.Context, key string, _ ListenOptions, onNext func(Document), _ func(error)) Unsubscribe {
	sub := &memorySub{notify: make(chan struct{}, 1)}
	sub.notify <- struct{}{}

	m.mu.Lock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[*memorySub]struct{})
	}
	m.subs[key][sub] = struct{}{}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer m.unsubscribe(key, sub)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.notify:
				doc := m.document(key)
				if ctx.Err() != nil {
					return
				}
				onNext(doc)
			}
		}
	}()

	return Unsubscribe(cancel)
}

func (m *MemoryStore) unsubscribe(key string, sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[key], sub)
	if len(m.subs[key]) == 0 {
		delete(m.subs, key)
	}
}

// Subscribers returns the number of open subscriptions on key.
func (m *MemoryStore) Subscribers(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[key])
}

var _ Store[string, Document] = (*MemoryStore)(nil)
