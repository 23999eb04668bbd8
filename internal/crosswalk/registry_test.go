package crosswalk

import (
	"context"
	"testing"
	"time"

	"github.com/crossguard/crossguard/internal/store"
)

func f(v float64) *float64 { return &v }

func newTestRegistry() (*Registry, *store.Memory) {
	st := store.NewMemory()
	r := NewRegistry(st)
	return r, st
}

func TestAddRemovePed(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()

	if err := r.AddPed(ctx, "1", "p1"); err != nil {
		t.Fatal(err)
	}
	// Idempotent re-add
	if err := r.AddPed(ctx, "1", "p1"); err != nil {
		t.Fatal(err)
	}
	if err := r.AddPed(ctx, "1", "p2"); err != nil {
		t.Fatal(err)
	}

	state, ok, err := r.Get(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(state.Peds) != 2 || !state.Peds["p1"] || !state.Peds["p2"] {
		t.Errorf("peds = %v", state.Peds)
	}

	if err := r.RemovePed(ctx, "1", "p1"); err != nil {
		t.Fatal(err)
	}
	// Removing from an unknown crosswalk is a no-op
	if err := r.RemovePed(ctx, "99", "p1"); err != nil {
		t.Fatal(err)
	}

	state, _, _ = r.Get(ctx, "1")
	if len(state.Peds) != 1 || state.Peds["p1"] {
		t.Errorf("peds after remove = %v", state.Peds)
	}
}

func TestAddDriverCreatesDocument(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	r.now = func() time.Time { return time.Unix(1000, 0) }

	if err := r.AddDriver(ctx, "1", "d1", 200, f(10)); err != nil {
		t.Fatal(err)
	}

	state, ok, _ := r.Get(ctx, "1")
	if !ok {
		t.Fatal("crosswalk should exist after AddDriver")
	}
	d := state.Drivers["d1"]
	if d.Distance == nil || *d.Distance != 200 {
		t.Errorf("distance = %v", d.Distance)
	}
	if d.Speed == nil || *d.Speed != 10 {
		t.Errorf("speed = %v", d.Speed)
	}
	if d.ReportedAt != 1000 {
		t.Errorf("ts = %v", d.ReportedAt)
	}
}

func TestUpdateDriver(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	r.now = func() time.Time { return time.Unix(1000, 0) }

	if err := r.AddDriver(ctx, "1", "d1", 200, f(10)); err != nil {
		t.Fatal(err)
	}

	t.Run("omitted speed is preserved", func(t *testing.T) {
		r.now = func() time.Time { return time.Unix(1001, 0) }
		if err := r.UpdateDriver(ctx, "1", "d1", 150, nil); err != nil {
			t.Fatal(err)
		}
		state, _, _ := r.Get(ctx, "1")
		d := state.Drivers["d1"]
		if *d.Distance != 150 {
			t.Errorf("distance = %v", *d.Distance)
		}
		if d.Speed == nil || *d.Speed != 10 {
			t.Errorf("speed should be preserved, got %v", d.Speed)
		}
		if d.ReportedAt != 1001 {
			t.Errorf("ts should be refreshed, got %v", d.ReportedAt)
		}
	})

	t.Run("provided speed overwrites", func(t *testing.T) {
		if err := r.UpdateDriver(ctx, "1", "d1", 140, f(12)); err != nil {
			t.Fatal(err)
		}
		state, _, _ := r.Get(ctx, "1")
		if *state.Drivers["d1"].Speed != 12 {
			t.Errorf("speed = %v", *state.Drivers["d1"].Speed)
		}
	})

	t.Run("unknown driver is a no-op", func(t *testing.T) {
		if err := r.UpdateDriver(ctx, "1", "ghost", 10, nil); err != nil {
			t.Fatal(err)
		}
		state, _, _ := r.Get(ctx, "1")
		if _, there := state.Drivers["ghost"]; there {
			t.Error("update must not create driver entries")
		}
	})
}

func TestRemoveDriverClearsHysteresis(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()

	_ = r.AddDriver(ctx, "1", "d1", 40, f(10))
	// Simulate an armed driver alert.
	if err := r.ApplyEvaluation(ctx, "1", map[string]Driver{
		"d1": {Distance: f(40), Speed: f(10), ReportedAt: 1000},
	}, map[string]float64{"d1": 40}, nil); err != nil {
		t.Fatal(err)
	}

	if err := r.RemoveDriver(ctx, "1", "d1"); err != nil {
		t.Fatal(err)
	}

	state, _, _ := r.Get(ctx, "1")
	if len(state.Drivers) != 0 {
		t.Errorf("drivers = %v", state.Drivers)
	}
	if len(state.DriverCriticalActive) != 0 {
		t.Error("hysteresis state must not leak onto a future driver reusing the sid")
	}
}

func TestApplyEvaluation(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()

	_ = r.AddPed(ctx, "1", "p1")
	_ = r.AddDriver(ctx, "1", "d1", 40, f(10))
	_ = r.AddDriver(ctx, "1", "d2", 500, f(10))

	// Evaluation pruned d2 and armed the aggregate alert.
	min := 40.0
	err := r.ApplyEvaluation(ctx, "1", map[string]Driver{
		"d1": {Distance: f(40), Speed: f(10), ReportedAt: 1000},
	}, map[string]float64{"d1": 40}, &min)
	if err != nil {
		t.Fatal(err)
	}

	state, _, _ := r.Get(ctx, "1")
	if len(state.Drivers) != 1 {
		t.Errorf("drivers after prune = %v", state.Drivers)
	}
	if state.PedCriticalMinDistance == nil || *state.PedCriticalMinDistance != 40 {
		t.Errorf("ped min distance = %v", state.PedCriticalMinDistance)
	}
	if state.DriverCriticalActive["d1"] != 40 {
		t.Errorf("driver active = %v", state.DriverCriticalActive)
	}

	// A later pass with no qualifiers clears the aggregate state.
	err = r.ApplyEvaluation(ctx, "1", map[string]Driver{}, map[string]float64{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	state, _, _ = r.Get(ctx, "1")
	if state.PedCriticalMinDistance != nil {
		t.Error("ped min distance should be removed")
	}
	if !state.Peds["p1"] {
		t.Error("peds must survive evaluation writes")
	}
}

// gcRacingStore delegates to an inner store but collects the target document
// right before every Upsert, standing in for a sweep pass firing at the worst
// possible moment during a join.
type gcRacingStore struct {
	store.Store
	inner *store.Memory
}

func (s *gcRacingStore) Upsert(ctx context.Context, col store.Collection, key string, initial store.Document, fields map[string]any) error {
	_ = s.inner.Delete(ctx, col, key)
	return s.inner.Upsert(ctx, col, key, initial, fields)
}

func TestJoinSurvivesConcurrentCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("ped join", func(t *testing.T) {
		inner := store.NewMemory()
		r := NewRegistry(&gcRacingStore{Store: inner, inner: inner})

		// Leave an empty document behind, the shape the sweep collects.
		if err := r.AddPed(ctx, "1", "p0"); err != nil {
			t.Fatal(err)
		}
		if err := r.RemovePed(ctx, "1", "p0"); err != nil {
			t.Fatal(err)
		}

		if err := r.AddPed(ctx, "1", "p1"); err != nil {
			t.Fatal(err)
		}
		state, ok, err := r.Get(ctx, "1")
		if err != nil || !ok {
			t.Fatalf("crosswalk missing after join: ok=%v err=%v", ok, err)
		}
		if !state.Peds["p1"] {
			t.Error("join reported success but the ped is not registered")
		}
	})

	t.Run("driver join", func(t *testing.T) {
		inner := store.NewMemory()
		r := NewRegistry(&gcRacingStore{Store: inner, inner: inner})

		if err := r.AddDriver(ctx, "1", "d1", 200, f(10)); err != nil {
			t.Fatal(err)
		}
		state, ok, _ := r.Get(ctx, "1")
		if !ok {
			t.Fatal("crosswalk missing after join")
		}
		if _, there := state.Drivers["d1"]; !there {
			t.Error("join reported success but the driver is not registered")
		}
	})
}

func TestCollectIfEmpty(t *testing.T) {
	ctx := context.Background()

	t.Run("collects a vacated crosswalk", func(t *testing.T) {
		r, _ := newTestRegistry()
		_ = r.AddPed(ctx, "1", "p1")
		_ = r.RemovePed(ctx, "1", "p1")

		collected, err := r.CollectIfEmpty(ctx, "1")
		if err != nil {
			t.Fatal(err)
		}
		if !collected {
			t.Error("expected the empty crosswalk to be collected")
		}
		if _, ok, _ := r.Get(ctx, "1"); ok {
			t.Error("document still present after collection")
		}
	})

	t.Run("refuses an occupied crosswalk", func(t *testing.T) {
		r, _ := newTestRegistry()
		_ = r.AddPed(ctx, "1", "p1")

		collected, err := r.CollectIfEmpty(ctx, "1")
		if err != nil {
			t.Fatal(err)
		}
		if collected {
			t.Error("occupied crosswalk must not be collected")
		}
	})

	t.Run("refuses an unknown crosswalk", func(t *testing.T) {
		r, _ := newTestRegistry()
		collected, err := r.CollectIfEmpty(ctx, "ghost")
		if err != nil {
			t.Fatal(err)
		}
		if collected {
			t.Error("nothing to collect")
		}
	})

	t.Run("loses against a join after the emptiness check", func(t *testing.T) {
		r, st := newTestRegistry()
		_ = r.AddPed(ctx, "1", "p1")
		_ = r.RemovePed(ctx, "1", "p1")

		// Write landing between Get and the conditional delete.
		if err := st.Update(ctx, store.Crosswalks, "1", map[string]any{"peds.p2": true}); err != nil {
			t.Fatal(err)
		}
		observed := store.Document{
			"peds":    map[string]any{},
			"drivers": map[string]any{},
			"last_broadcast": map[string]any{
				"driver_critical_active": map[string]any{},
			},
		}
		deleted, err := st.CompareAndDelete(ctx, store.Crosswalks, "1", observed)
		if err != nil {
			t.Fatal(err)
		}
		if deleted {
			t.Error("stale observation must not delete the document")
		}

		state, ok, _ := r.Get(ctx, "1")
		if !ok || !state.Peds["p2"] {
			t.Error("the racing join was lost")
		}
	})
}

func TestRemoveSession(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()

	_ = r.AddPed(ctx, "1", "s1")
	_ = r.AddPed(ctx, "2", "s1")
	_ = r.AddDriver(ctx, "3", "s1", 100, nil)
	_ = r.AddPed(ctx, "2", "other")

	t.Run("role narrows the scan", func(t *testing.T) {
		affected, err := r.RemoveSession(ctx, "s1", RolePed)
		if err != nil {
			t.Fatal(err)
		}
		if len(affected) != 2 {
			t.Errorf("affected = %v", affected)
		}
		// Driver membership untouched under ped role.
		state, _, _ := r.Get(ctx, "3")
		if _, there := state.Drivers["s1"]; !there {
			t.Error("driver entry should survive a ped-role cleanup")
		}
	})

	t.Run("unknown role checks both", func(t *testing.T) {
		affected, err := r.RemoveSession(ctx, "s1", "")
		if err != nil {
			t.Fatal(err)
		}
		if len(affected) != 1 || affected[0] != "3" {
			t.Errorf("affected = %v", affected)
		}
	})
}
