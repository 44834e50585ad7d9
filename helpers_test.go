package tether

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errDecode = errors.New("decode failed")
	errStore  = errors.New("store unavailable")
)

// testRef is compared by id, so two distinct pointers can be the same
// reference to the store.
type testRef struct {
	id string
}

// testSnap is a minimal Snapshot whose payload is a string.
type testSnap struct {
	id      string
	exists  bool
	payload string

	mu       sync.Mutex
	decodeOp []SnapshotOptions
}

func (s *testSnap) Exists() bool { return s.exists }

func (s *testSnap) Decode(v any, opts SnapshotOptions) error {
	s.mu.Lock()
	s.decodeOp = append(s.decodeOp, opts)
	s.mu.Unlock()
	p, ok := v.(*string)
	if !ok {
		return errDecode
	}
	*p = s.payload
	return nil
}

type subscription struct {
	ref     *testRef
	opts    ListenOptions
	onNext  func(*testSnap)
	onError func(error)
	ctx     context.Context
	unsubs  atomic.Int32
}

// fakeSubscriber records every Subscribe call and hands the callbacks to
// the test. When onSubscribe is set it runs inside Subscribe.
type fakeSubscriber struct {
	mu          sync.Mutex
	subs        []*subscription
	onSubscribe func(*subscription)
}

func (f *fakeSubscriber) RefEqual(a, b *testRef) bool {
	return a.id == b.id
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, ref *testRef, opts ListenOptions, onNext func(*testSnap), onError func(error)) Unsubscribe {
	sub := &subscription{ref: ref, opts: opts, onNext: onNext, onError: onError, ctx: ctx}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	hook := f.onSubscribe
	f.mu.Unlock()
	if hook != nil {
		hook(sub)
	}
	return func() { sub.unsubs.Add(1) }
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSubscriber) last(t *testing.T) *subscription {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		t.Fatal("expected a subscription")
	}
	return f.subs[len(f.subs)-1]
}

type fetchResult struct {
	snap *testSnap
	err  error
}

type fetchCall struct {
	ctx    context.Context
	ref    *testRef
	source Source
	reply  chan fetchResult
}

// fakeGetter parks every FetchOnce call on calls until the test replies.
type fakeGetter struct {
	calls   chan *fetchCall
	fetches atomic.Int32
}

func newFakeGetter() *fakeGetter {
	return &fakeGetter{calls: make(chan *fetchCall, 16)}
}

func (f *fakeGetter) RefEqual(a, b *testRef) bool {
	return a.id == b.id
}

func (f *fakeGetter) FetchOnce(ctx context.Context, ref *testRef, source Source) (*testSnap, error) {
	f.fetches.Add(1)
	call := &fetchCall{ctx: ctx, ref: ref, source: source, reply: make(chan fetchResult, 1)}
	f.calls <- call
	res := <-call.reply
	return res.snap, res.err
}

func (f *fakeGetter) next(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for fetch")
		return nil
	}
}

func (f *fakeGetter) expectNoFetch(t *testing.T) {
	t.Helper()
	select {
	case call := <-f.calls:
		t.Fatalf("unexpected fetch of %q", call.ref.id)
	case <-time.After(20 * time.Millisecond):
	}
}

// instantGetter answers every fetch immediately from a map of ids.
type instantGetter struct {
	snaps map[string]*testSnap
	err   error
	calls atomic.Int32
}

func (g *instantGetter) RefEqual(a, b *testRef) bool {
	return a.id == b.id
}

func (g *instantGetter) FetchOnce(ctx context.Context, ref *testRef, _ Source) (*testSnap, error) {
	g.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.snaps[ref.id], nil
}

// recordingMetrics captures metrics callbacks.
type recordingMetrics struct {
	NoOpMetricsProvider

	mu          sync.Mutex
	transitions [][2]Status
	subscribes  int
	unsubscribe int
	successes   []time.Duration
	failures    []time.Duration
}

func (m *recordingMetrics) OnStatusChange(from, to Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, [2]Status{from, to})
}

func (m *recordingMetrics) OnSubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes++
}

func (m *recordingMetrics) OnUnsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribe++
}

func (m *recordingMetrics) OnFetchSuccess(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, d)
}

func (m *recordingMetrics) OnFetchFailure(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, d)
}

// waitChanged fails the test if ch is not closed within a second.
func waitChanged(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cell change")
	}
}

// waitFor polls condition until it holds or a second passes.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
