package integration

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/tether"
)

type account struct {
	Owner   string `json:"owner" yaml:"owner"`
	Balance int    `json:"balance" yaml:"balance"`
}

var errUnavailable = errors.New("store unavailable")

// flakyStore fails every fetch while down is set.
type flakyStore struct {
	*tether.MemoryStore
	down  atomic.Bool
	calls atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: tether.NewMemoryStore()}
}

func (f *flakyStore) FetchOnce(ctx context.Context, key string, source tether.Source) (tether.Document, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return tether.Document{}, errUnavailable
	}
	return f.MemoryStore.FetchOnce(ctx, key, source)
}

// waitFor polls a condition until it returns true or timeout is reached.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
