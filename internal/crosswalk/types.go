// Package crosswalk owns the per-crosswalk presence document: which
// pedestrians and drivers are currently at a crossing, the drivers' latest
// telemetry, and the hysteresis state of any active alerts. The document in
// the store is the single source of truth; nothing here is cached.
package crosswalk

import "sort"

// Driver is one driver's latest telemetry at a crosswalk.
type Driver struct {
	Distance   *float64 // meters to the crosswalk; nil if never reported
	Speed      *float64 // meters/second; nil if the client does not report speed
	ReportedAt float64  // unix seconds of the last update
}

// State is the decoded form of one crosswalk document.
type State struct {
	ID      string
	Peds    map[string]bool
	Drivers map[string]Driver

	// Hysteresis state persisted under last_broadcast.
	PedCriticalMinDistance *float64           // set while the aggregate pedestrian alert is active
	DriverCriticalActive   map[string]float64 // sid -> distance that triggered the driver's active alert
}

// PedSIDs returns the pedestrian session ids in stable order.
func (s *State) PedSIDs() []string {
	sids := make([]string, 0, len(s.Peds))
	for sid := range s.Peds {
		sids = append(sids, sid)
	}
	sort.Strings(sids)
	return sids
}

// DriverSIDs returns the driver session ids in stable order.
func (s *State) DriverSIDs() []string {
	sids := make([]string, 0, len(s.Drivers))
	for sid := range s.Drivers {
		sids = append(sids, sid)
	}
	sort.Strings(sids)
	return sids
}

// Empty reports whether the crosswalk holds no presence and no hysteresis
// state, making its document eligible for garbage collection.
func (s *State) Empty() bool {
	return len(s.Peds) == 0 && len(s.Drivers) == 0 &&
		s.PedCriticalMinDistance == nil && len(s.DriverCriticalActive) == 0
}

// decodeState rebuilds a State from a raw store document. Unknown or
// malformed fields are skipped rather than failing the whole document.
func decodeState(id string, doc map[string]any) *State {
	s := &State{
		ID:                   id,
		Peds:                 make(map[string]bool),
		Drivers:              make(map[string]Driver),
		DriverCriticalActive: make(map[string]float64),
	}

	if peds, ok := doc["peds"].(map[string]any); ok {
		for sid := range peds {
			s.Peds[sid] = true
		}
	}

	if drivers, ok := doc["drivers"].(map[string]any); ok {
		for sid, raw := range drivers {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			d := Driver{}
			if v, ok := entry["distance"].(float64); ok {
				d.Distance = &v
			}
			if v, ok := entry["speed"].(float64); ok {
				d.Speed = &v
			}
			if v, ok := entry["ts"].(float64); ok {
				d.ReportedAt = v
			}
			s.Drivers[sid] = d
		}
	}

	if lb, ok := doc["last_broadcast"].(map[string]any); ok {
		if v, ok := lb["ped_critical_min_distance"].(float64); ok {
			s.PedCriticalMinDistance = &v
		}
		if active, ok := lb["driver_critical_active"].(map[string]any); ok {
			for sid, raw := range active {
				if v, ok := raw.(float64); ok {
					s.DriverCriticalActive[sid] = v
				}
			}
		}
	}

	return s
}
