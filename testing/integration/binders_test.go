package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"github.com/zoobzio/tether"
	tethertest "github.com/zoobzio/tether/testing"
)

var (
	replicaID = pipz.NewIdentity("test:replica", "Test replica fallback")
	observeID = pipz.NewIdentity("test:observe", "Test error observer")
)

func TestListener_RapidRefSwitchingSettlesOnLastRef(t *testing.T) {
	store := tether.NewMemoryStore()
	for i := 0; i < 10; i++ {
		store.Set(fmt.Sprintf("acct-%d", i), []byte(fmt.Sprintf(`{"owner": "o%d", "balance": %d}`, i, i)))
	}

	l := tether.NewDataListener[string, tether.Document](store, tether.DataOptions[account]{})
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		l.Bind(ctx, fmt.Sprintf("acct-%d", i), tether.ListenOptions{})
	}

	if !waitFor(t, time.Second, func() bool {
		d := l.Data()
		return !d.Loading && d.Value.Balance == 9
	}) {
		t.Fatalf("expected last account, got %+v", l.Data())
	}

	// Only the last subscription stays open.
	if !waitFor(t, time.Second, func() bool {
		total := 0
		for i := 0; i < 10; i++ {
			total += store.Subscribers(fmt.Sprintf("acct-%d", i))
		}
		return total == 1 && store.Subscribers("acct-9") == 1
	}) {
		t.Error("expected only the last subscription to remain")
	}

	// Writes to abandoned refs never reach the cell.
	store.Set("acct-3", []byte(`{"owner": "late", "balance": -1}`))
	time.Sleep(50 * time.Millisecond)
	if d := l.Data(); d.Value.Balance != 9 {
		t.Errorf("expected stale ref write to be ignored, got %+v", d.Value)
	}
}

func TestListener_ValueSurvivesResubscribe(t *testing.T) {
	store := tether.NewMemoryStore()
	store.Set("acct", []byte(`{"owner": "ada", "balance": 10}`))

	l := tether.NewDataListener[string, tether.Document](store, tether.DataOptions[account]{})
	defer l.Close()

	l.Bind(context.Background(), "acct", tether.ListenOptions{})
	tethertest.WaitForStatus(t, l, tether.StatusReady, time.Second)

	// Changing options resubscribes; the old value is held while loading.
	l.Bind(context.Background(), "acct", tether.ListenOptions{IncludeMetadataChanges: true})
	if d := l.Data(); d.Value.Owner != "ada" {
		t.Errorf("expected value held across resubscribe, got %+v", d)
	}
	if !tethertest.WaitForStatus(t, l, tether.StatusReady, time.Second) {
		t.Errorf("expected ready after resubscribe, got %s", l.Status())
	}
}

func TestOnce_CircuitBreakerOpensAfterFailures(t *testing.T) {
	store := newFlakyStore()
	store.Set("acct", []byte(`{"owner": "ada", "balance": 1}`))
	store.down.Store(true)

	o := tether.NewDataOnce[string, tether.Document](store, tether.DataOptions[account]{},
		tether.WithCircuitBreaker[string, tether.Document](2, time.Hour),
	)
	defer o.Close()
	o.SyncMode().ErrorHistorySize(5)

	o.Bind(context.Background(), "acct", tether.GetOptions{})
	o.Reload()
	if !errors.Is(o.Data().Err, errUnavailable) {
		t.Fatalf("expected store error, got %v", o.Data().Err)
	}

	store.down.Store(false)
	o.Reload()

	if store.calls.Load() != 2 {
		t.Errorf("expected open breaker to skip the store, got %d calls", store.calls.Load())
	}
	if o.Data().Err == nil {
		t.Error("expected breaker error while open")
	}
	if len(o.ErrorHistory()) != 3 {
		t.Errorf("expected 3 errors in history, got %d", len(o.ErrorHistory()))
	}
}

func TestOnce_FallbackReadsReplica(t *testing.T) {
	primary := newFlakyStore()
	primary.down.Store(true)

	replica := tether.NewMemoryStore()
	replica.Set("acct", []byte(`{"owner": "replica", "balance": 7}`))

	fromReplica := pipz.Apply(replicaID, func(ctx context.Context, req *tether.Request[string, tether.Document]) (*tether.Request[string, tether.Document], error) {
		doc, err := replica.FetchOnce(ctx, req.Ref, req.Source)
		req.Snapshot = doc
		return req, err
	})

	o := tether.NewDataOnce[string, tether.Document](primary, tether.DataOptions[account]{},
		tether.WithFallback[string, tether.Document](fromReplica),
	)
	defer o.Close()
	o.SyncMode()

	o.Bind(context.Background(), "acct", tether.GetOptions{})

	tethertest.RequireStatus(t, o, tether.StatusReady)
	tethertest.RequireData(t, o.Data(), func(a account) bool {
		return a.Owner == "replica" && a.Balance == 7
	})
}

func TestOnce_ErrorHandlerObservesFailures(t *testing.T) {
	store := newFlakyStore()
	store.down.Store(true)

	var mu sync.Mutex
	var observed []error
	handler := pipz.Effect(observeID, func(_ context.Context, e *pipz.Error[*tether.Request[string, tether.Document]]) error {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, e.Err)
		return nil
	})

	o := tether.NewOnce[string, tether.Document](store,
		tether.WithErrorHandler[string, tether.Document](handler),
	).SyncMode()
	defer o.Close()

	o.Bind(context.Background(), "acct", tether.GetOptions{})

	if !errors.Is(o.State().Err, errUnavailable) {
		t.Errorf("expected store error in cell, got %v", o.State().Err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || !errors.Is(observed[0], errUnavailable) {
		t.Errorf("expected handler to observe the store error, got %v", observed)
	}
}

func TestOnce_RateLimitedReloads(t *testing.T) {
	store := tether.NewMemoryStore()
	store.Set("acct", []byte(`{"owner": "ada", "balance": 0}`))

	o := tether.NewDataOnce[string, tether.Document](store, tether.DataOptions[account]{},
		tether.WithRateLimit[string, tether.Document](1000, 5),
	)
	defer o.Close()
	o.SyncMode()

	o.Bind(context.Background(), "acct", tether.GetOptions{})
	for i := 1; i <= 5; i++ {
		store.Set("acct", []byte(fmt.Sprintf(`{"owner": "ada", "balance": %d}`, i)))
		o.Reload()
	}

	tethertest.RequireData(t, o.Data(), func(a account) bool {
		return a.Balance == 5
	})
}

func TestOnce_TimeoutSurfacesAsError(t *testing.T) {
	slow := &slowStore{delay: 200 * time.Millisecond}

	o := tether.NewOnce[string, tether.Document](slow,
		tether.WithTimeout[string, tether.Document](20*time.Millisecond),
	).SyncMode()
	defer o.Close()

	o.Bind(context.Background(), "acct", tether.GetOptions{})

	tethertest.RequireStatus(t, o, tether.StatusFailed)
}

type slowStore struct {
	delay time.Duration
}

func (*slowStore) RefEqual(a, b string) bool { return a == b }

func (s *slowStore) FetchOnce(ctx context.Context, key string, _ tether.Source) (tether.Document, error) {
	select {
	case <-time.After(s.delay):
		return tether.MissingDocument(key, nil), nil
	case <-ctx.Done():
		return tether.Document{}, ctx.Err()
	}
}

func TestSignals_FetchLifecycle(t *testing.T) {
	store := newFlakyStore()
	store.Set("signals-acct", []byte(`{"owner": "ada"}`))

	var succeeded, failed atomic.Int32
	var lastErr atomic.Value
	okHook := capitan.Hook(tether.OnceFetchSucceeded, func(_ context.Context, e *capitan.Event) {
		if ref, _ := tether.KeyReference.From(e); ref == "signals-acct" {
			succeeded.Add(1)
		}
	})
	defer okHook.Close()
	failHook := capitan.Hook(tether.OnceFetchFailed, func(_ context.Context, e *capitan.Event) {
		if ref, _ := tether.KeyReference.From(e); ref == "signals-acct" {
			msg, _ := tether.KeyError.From(e)
			lastErr.Store(msg)
			failed.Add(1)
		}
	})
	defer failHook.Close()

	o := tether.NewOnce[string, tether.Document](store).SyncMode()
	defer o.Close()

	o.Bind(context.Background(), "signals-acct", tether.GetOptions{})
	store.down.Store(true)
	o.Reload()

	if !waitFor(t, time.Second, func() bool {
		return succeeded.Load() == 1 && failed.Load() == 1
	}) {
		t.Fatalf("expected one success and one failure, got %d/%d", succeeded.Load(), failed.Load())
	}
	if msg, _ := lastErr.Load().(string); msg != errUnavailable.Error() {
		t.Errorf("expected error field %q, got %q", errUnavailable.Error(), msg)
	}
}

func TestSignals_StatusChanges(t *testing.T) {
	store := tether.NewMemoryStore()
	store.Set("status-acct", []byte(`{"owner": "ada"}`))

	var mu sync.Mutex
	var transitions []string
	hook := capitan.Hook(tether.CellStatusChanged, func(_ context.Context, e *capitan.Event) {
		if ref, _ := tether.KeyReference.From(e); ref != "status-acct" {
			return
		}
		from, _ := tether.KeyOldStatus.From(e)
		to, _ := tether.KeyNewStatus.From(e)
		mu.Lock()
		transitions = append(transitions, from+"->"+to)
		mu.Unlock()
	})
	defer hook.Close()

	l := tether.NewListener[string, tether.Document](store)
	l.Bind(context.Background(), "status-acct", tether.ListenOptions{})
	tethertest.WaitForStatus(t, l, tether.StatusReady, time.Second)
	l.Bind(context.Background(), "", tether.ListenOptions{})
	l.Close()

	if !waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 1
	}) {
		t.Fatal("expected status change signals")
	}
	mu.Lock()
	defer mu.Unlock()
	if transitions[0] != "loading->ready" {
		t.Errorf("expected loading->ready first, got %v", transitions)
	}
}
