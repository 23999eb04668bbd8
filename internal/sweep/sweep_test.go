package sweep

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossguard/crossguard/internal/crosswalk"
	"github.com/crossguard/crossguard/internal/store"
)

type recordingRequester struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRequester) Request(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingRequester) requested() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.ids...)
	sort.Strings(out)
	return out
}

func f(v float64) *float64 { return &v }

func TestTick(t *testing.T) {
	ctx := context.Background()

	t.Run("requests evaluation for every occupied crosswalk", func(t *testing.T) {
		st := store.NewMemory()
		registry := crosswalk.NewRegistry(st)
		require.NoError(t, registry.AddPed(ctx, "1", "p1"))
		require.NoError(t, registry.AddDriver(ctx, "2", "d1", 100, f(10)))

		req := &recordingRequester{}
		s := NewScheduler(registry, req, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
		s.Tick(ctx)

		assert.Equal(t, []string{"1", "2"}, req.requested())
	})

	t.Run("collects empty crosswalks instead of evaluating them", func(t *testing.T) {
		st := store.NewMemory()
		registry := crosswalk.NewRegistry(st)
		require.NoError(t, registry.AddPed(ctx, "1", "p1"))
		require.NoError(t, registry.RemovePed(ctx, "1", "p1"))
		require.NoError(t, registry.AddPed(ctx, "2", "p2"))

		req := &recordingRequester{}
		s := NewScheduler(registry, req, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
		s.Tick(ctx)

		assert.Equal(t, []string{"2"}, req.requested())

		ids, err := registry.ListIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, ids, "vacated crosswalk should be deleted")
	})

	t.Run("more crosswalks than workers", func(t *testing.T) {
		st := store.NewMemory()
		registry := crosswalk.NewRegistry(st)
		want := make([]string, 0, 10)
		for _, id := range []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"} {
			require.NoError(t, registry.AddPed(ctx, id, "p"))
			want = append(want, id)
		}

		req := &recordingRequester{}
		s := NewScheduler(registry, req, Config{Interval: DefaultConfig().Interval, Workers: 3}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		s.Tick(ctx)

		assert.Equal(t, want, req.requested())
	})

	t.Run("no crosswalks", func(t *testing.T) {
		st := store.NewMemory()
		registry := crosswalk.NewRegistry(st)
		req := &recordingRequester{}
		s := NewScheduler(registry, req, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
		s.Tick(ctx)
		assert.Empty(t, req.requested())
	})
}
