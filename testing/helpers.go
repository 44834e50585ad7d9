// Package testing provides test utilities and helpers for code built on
// tether binders.
package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/tether"
)

// Profile is a standard record type for tests that decode Documents.
type Profile struct {
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email" json:"email"`
	Age   int    `yaml:"age" json:"age"`
}

// Validate reports whether the profile is complete.
func (p Profile) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.Age < 0 {
		return errors.New("age must not be negative")
	}
	return nil
}

// StatusReporter is implemented by Cells, Listeners and Once binders.
type StatusReporter interface {
	Status() tether.Status
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
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

// WaitForStatus waits until r reaches the expected status or timeout occurs.
func WaitForStatus(t *testing.T, r StatusReporter, expected tether.Status, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return r.Status() == expected
	})
}

// RequireStatus fails the test immediately if r is not in the expected status.
func RequireStatus(t *testing.T, r StatusReporter, expected tether.Status) {
	t.Helper()
	if got := r.Status(); got != expected {
		t.Fatalf("expected status %s, got %s", expected, got)
	}
}

// RequireData fails the test if d holds no value or the value doesn't match.
func RequireData[T any, S tether.Snapshot](t *testing.T, d tether.Data[T, S], check func(T) bool) {
	t.Helper()
	if !d.HasValue {
		t.Fatalf("expected a value, got none (loading=%v, err=%v)", d.Loading, d.Err)
	}
	if !check(d.Value) {
		t.Fatalf("value check failed: %+v", d.Value)
	}
}

// NewTestListener creates a profile listener over a fresh MemoryStore.
// The listener is closed when the test ends.
func NewTestListener(t *testing.T) (*tether.DataListener[string, tether.Document, Profile], *tether.MemoryStore) {
	t.Helper()
	store := tether.NewMemoryStore()
	l := tether.NewDataListener[string, tether.Document](store, tether.DataOptions[Profile]{})
	t.Cleanup(l.Close)
	return l, store
}

// NewTestOnce creates a synchronous profile Once binder over a fresh
// MemoryStore. The binder is closed when the test ends.
func NewTestOnce(t *testing.T, pipeline ...tether.Option[string, tether.Document]) (*tether.DataOnce[string, tether.Document, Profile], *tether.MemoryStore) {
	t.Helper()
	store := tether.NewMemoryStore()
	o := tether.NewDataOnce[string, tether.Document](store, tether.DataOptions[Profile]{}, pipeline...)
	o.SyncMode()
	t.Cleanup(o.Close)
	return o, store
}

// Bind binds l to key with default options and waits until it settles.
func Bind(t *testing.T, l *tether.DataListener[string, tether.Document, Profile], key string) {
	t.Helper()
	l.Bind(context.Background(), key, tether.ListenOptions{})
	if !WaitFor(t, time.Second, func() bool { return !l.State().Loading }) {
		t.Fatalf("listener on %q did not settle", key)
	}
}
