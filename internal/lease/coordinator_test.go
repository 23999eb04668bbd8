package lease

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossguard/crossguard/internal/store"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func leaseHeld(t *testing.T, st store.Store, id string) bool {
	t.Helper()
	_, ok, err := st.Get(context.Background(), store.Leases, id)
	require.NoError(t, err)
	return ok
}

func TestRequestRunsAtMostOnePass(t *testing.T) {
	st := store.NewMemory()

	var running atomic.Int32
	var overlapped atomic.Bool
	var passes atomic.Int32

	run := func(ctx context.Context, id string) error {
		if running.Add(1) > 1 {
			overlapped.Store(true)
		}
		passes.Add(1)
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	c := NewCoordinator(st, run, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Request(context.Background(), "1"))
		}()
	}
	wg.Wait()
	c.Close()

	assert.False(t, overlapped.Load(), "two passes ran concurrently for one crosswalk")
	assert.GreaterOrEqual(t, passes.Load(), int32(1))
	assert.Less(t, passes.Load(), int32(16), "contended requests should coalesce")
	assert.False(t, leaseHeld(t, st, "1"))
}

func TestLeasesAreIndependentAcrossCrosswalks(t *testing.T) {
	st := store.NewMemory()

	started := make(chan string, 2)
	release := make(chan struct{})
	run := func(ctx context.Context, id string) error {
		started <- id
		<-release
		return nil
	}

	c := NewCoordinator(st, run, discardLogger())
	defer c.Close()

	require.NoError(t, c.Request(context.Background(), "1"))
	require.NoError(t, c.Request(context.Background(), "2"))

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("passes for distinct crosswalks must not block each other")
		}
	}
	close(release)
}

func TestLeaseReleasedOnEveryExit(t *testing.T) {
	t.Run("pass error", func(t *testing.T) {
		st := store.NewMemory()
		run := func(ctx context.Context, id string) error { return errors.New("boom") }

		c := NewCoordinator(st, run, discardLogger())
		require.NoError(t, c.Request(context.Background(), "1"))
		c.Close()

		assert.False(t, leaseHeld(t, st, "1"), "failed pass must still release its lease")
	})

	t.Run("pass panic", func(t *testing.T) {
		st := store.NewMemory()
		run := func(ctx context.Context, id string) error { panic("boom") }

		c := NewCoordinator(st, run, discardLogger())
		require.NoError(t, c.Request(context.Background(), "1"))
		c.Close()

		assert.False(t, leaseHeld(t, st, "1"), "panicked pass must still release its lease")
	})

	t.Run("shutdown cancellation", func(t *testing.T) {
		st := store.NewMemory()
		started := make(chan struct{})
		run := func(ctx context.Context, id string) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}

		c := NewCoordinator(st, run, discardLogger())
		require.NoError(t, c.Request(context.Background(), "1"))
		<-started
		c.Close()

		assert.False(t, leaseHeld(t, st, "1"), "cancelled pass must still release its lease")
	})
}

func TestRequestPropagatesStoreErrors(t *testing.T) {
	st := failingStore{}
	c := NewCoordinator(st, func(ctx context.Context, id string) error { return nil }, discardLogger())
	defer c.Close()

	err := c.Request(context.Background(), "1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

// failingStore rejects every operation, standing in for a store outage.
type failingStore struct{}

func (failingStore) Get(context.Context, store.Collection, string) (store.Document, bool, error) {
	return nil, false, store.ErrUnavailable
}

func (failingStore) CreateIfAbsent(context.Context, store.Collection, string, store.Document) (bool, error) {
	return false, store.ErrUnavailable
}

func (failingStore) Upsert(context.Context, store.Collection, string, store.Document, map[string]any) error {
	return store.ErrUnavailable
}

func (failingStore) Update(context.Context, store.Collection, string, map[string]any) error {
	return store.ErrUnavailable
}

func (failingStore) Delete(context.Context, store.Collection, string) error {
	return store.ErrUnavailable
}

func (failingStore) CompareAndDelete(context.Context, store.Collection, string, store.Document) (bool, error) {
	return false, store.ErrUnavailable
}

func (failingStore) ListKeys(context.Context, store.Collection) ([]string, error) {
	return nil, store.ErrUnavailable
}
