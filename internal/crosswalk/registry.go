package crosswalk

import (
	"context"
	"time"

	"github.com/crossguard/crossguard/internal/store"
)

// Role names used by the session layer. The registry consults them only to
// narrow the disconnect-time scan.
const (
	RolePed    = "ped"
	RoleDriver = "driver"
)

// Registry exposes the presence mutations the socket layer performs. All
// operations are direct writes against the store, idempotent or safely
// repeatable, and never gated by the evaluation lease.
type Registry struct {
	store store.Store
	now   func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s, now: time.Now}
}

func newDocument() store.Document {
	return store.Document{
		"peds":    map[string]any{},
		"drivers": map[string]any{},
		"last_broadcast": map[string]any{
			"driver_critical_active": map[string]any{},
		},
	}
}

func (r *Registry) unixNow() float64 {
	return float64(r.now().UnixMilli()) / 1000.0
}

// AddPed ensures the crosswalk document exists and adds sid to the ped set.
// No-op if the sid is already present. A single upsert, so the sweep's
// collection of an empty document can never swallow a join.
func (r *Registry) AddPed(ctx context.Context, id, sid string) error {
	doc := newDocument()
	doc["peds"] = map[string]any{sid: true}
	return r.store.Upsert(ctx, store.Crosswalks, id, doc, map[string]any{
		"peds." + sid: true,
	})
}

// RemovePed removes sid from the ped set. No-op if absent.
func (r *Registry) RemovePed(ctx context.Context, id, sid string) error {
	return r.store.Update(ctx, store.Crosswalks, id, map[string]any{
		"peds." + sid: store.Remove,
	})
}

// AddDriver ensures the crosswalk document exists and sets or overwrites the
// driver's telemetry entry with the current timestamp.
func (r *Registry) AddDriver(ctx context.Context, id, sid string, distance float64, speed *float64) error {
	entry := map[string]any{"distance": distance, "ts": r.unixNow()}
	if speed != nil {
		entry["speed"] = *speed
	}

	doc := newDocument()
	doc["drivers"] = map[string]any{sid: entry}
	return r.store.Upsert(ctx, store.Crosswalks, id, doc, map[string]any{
		"drivers." + sid: entry,
	})
}

// UpdateDriver refreshes distance and timestamp of an existing driver entry.
// Speed, when omitted, is preserved. No-op if the crosswalk or the driver
// entry is absent: the field paths require the entry to exist.
func (r *Registry) UpdateDriver(ctx context.Context, id, sid string, distance float64, speed *float64) error {
	fields := map[string]any{
		"drivers." + sid + ".distance": distance,
		"drivers." + sid + ".ts":       r.unixNow(),
	}
	if speed != nil {
		fields["drivers."+sid+".speed"] = *speed
	}
	return r.store.Update(ctx, store.Crosswalks, id, fields)
}

// RemoveDriver deletes the driver entry together with its hysteresis state,
// so a future driver reusing the sid starts clean.
func (r *Registry) RemoveDriver(ctx context.Context, id, sid string) error {
	return r.store.Update(ctx, store.Crosswalks, id, map[string]any{
		"drivers." + sid: store.Remove,
		"last_broadcast.driver_critical_active." + sid: store.Remove,
	})
}

// Get loads and decodes one crosswalk document.
func (r *Registry) Get(ctx context.Context, id string) (*State, bool, error) {
	doc, ok, err := r.store.Get(ctx, store.Crosswalks, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return decodeState(id, doc), true, nil
}

// ListIDs enumerates all known crosswalk ids.
func (r *Registry) ListIDs(ctx context.Context) ([]string, error) {
	return r.store.ListKeys(ctx, store.Crosswalks)
}

// CollectIfEmpty deletes the crosswalk document if it holds no presence and
// no hysteresis state. The delete is conditional on the document being
// unchanged since the emptiness check, so a join landing in between keeps
// the document alive. Returns whether the document was collected.
func (r *Registry) CollectIfEmpty(ctx context.Context, id string) (bool, error) {
	doc, ok, err := r.store.Get(ctx, store.Crosswalks, id)
	if err != nil || !ok {
		return false, err
	}
	if !decodeState(id, doc).Empty() {
		return false, nil
	}
	return r.store.CompareAndDelete(ctx, store.Crosswalks, id, doc)
}

// ApplyEvaluation persists the evaluator's outcome (the pruned driver map
// and both hysteresis maps) in a single update, before any notification is
// dispatched.
func (r *Registry) ApplyEvaluation(ctx context.Context, id string, drivers map[string]Driver, driverCriticalActive map[string]float64, pedCriticalMinDistance *float64) error {
	encodedDrivers := make(map[string]any, len(drivers))
	for sid, d := range drivers {
		entry := map[string]any{"ts": d.ReportedAt}
		if d.Distance != nil {
			entry["distance"] = *d.Distance
		}
		if d.Speed != nil {
			entry["speed"] = *d.Speed
		}
		encodedDrivers[sid] = entry
	}

	encodedActive := make(map[string]any, len(driverCriticalActive))
	for sid, dist := range driverCriticalActive {
		encodedActive[sid] = dist
	}

	fields := map[string]any{
		"drivers": encodedDrivers,
		"last_broadcast.driver_critical_active": encodedActive,
	}
	if pedCriticalMinDistance != nil {
		fields["last_broadcast.ped_critical_min_distance"] = *pedCriticalMinDistance
	} else {
		fields["last_broadcast.ped_critical_min_distance"] = store.Remove
	}
	return r.store.Update(ctx, store.Crosswalks, id, fields)
}

// RemoveSession removes sid from every crosswalk where it appears, returning
// the ids that changed. Role, when known, narrows which membership is
// checked; an unknown role checks both. Linear scan; acceptable for the
// population sizes involved.
func (r *Registry) RemoveSession(ctx context.Context, sid, role string) ([]string, error) {
	ids, err := r.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	var affected []string
	for _, id := range ids {
		state, ok, err := r.Get(ctx, id)
		if err != nil {
			return affected, err
		}
		if !ok {
			continue
		}

		modified := false
		if role != RoleDriver && state.Peds[sid] {
			if err := r.RemovePed(ctx, id, sid); err != nil {
				return affected, err
			}
			modified = true
		}
		if _, isDriver := state.Drivers[sid]; role != RolePed && isDriver {
			if err := r.RemoveDriver(ctx, id, sid); err != nil {
				return affected, err
			}
			modified = true
		}
		if modified {
			affected = append(affected, id)
		}
	}
	return affected, nil
}
