package risk

import (
	"math"
	"sort"
	"time"

	"github.com/crossguard/crossguard/internal/crosswalk"
)

// Outcome is the minimal state mutation plus the notifications one
// evaluation pass produced. Drivers is the post-TTL-prune telemetry map;
// the hysteresis fields replace the persisted last_broadcast state wholesale.
type Outcome struct {
	Drivers                map[string]crosswalk.Driver
	DriverCriticalActive   map[string]float64
	PedCriticalMinDistance *float64
	Events                 []Event
}

// Evaluate runs one pass over a crosswalk document. It is pure: no I/O, no
// state beyond its arguments, so repeated calls on the same inputs yield the
// same outcome.
func Evaluate(s *crosswalk.State, now time.Time, p Params) Outcome {
	nowSec := float64(now.UnixMilli()) / 1000.0
	ts := now.Unix()
	cutoff := nowSec - p.DriverTTL.Seconds()

	out := Outcome{
		Drivers:              make(map[string]crosswalk.Driver, len(s.Drivers)),
		DriverCriticalActive: make(map[string]float64, len(s.DriverCriticalActive)),
	}

	// TTL pruning: drivers expire by silence, never explicitly. Hysteresis
	// entries for expired drivers go with them.
	for sid, d := range s.Drivers {
		if d.ReportedAt < cutoff {
			continue
		}
		out.Drivers[sid] = d
		if dist, ok := s.DriverCriticalActive[sid]; ok {
			out.DriverCriticalActive[sid] = dist
		}
	}

	pedCount := len(s.Peds)
	pedSIDs := s.PedSIDs()

	driverSIDs := make([]string, 0, len(out.Drivers))
	for sid := range out.Drivers {
		driverSIDs = append(driverSIDs, sid)
	}
	sort.Strings(driverSIDs)

	// Per-driver state machine plus collection of outer-zone qualifiers for
	// the aggregate alert. Drivers without telemetry, or below the minimum
	// alert speed, are exempt: they raise nothing and retire nothing.
	var aggMin *float64
	for _, sid := range driverSIDs {
		d := out.Drivers[sid]
		if d.Distance == nil || d.Speed == nil || *d.Speed < p.MinAlertSpeed {
			continue
		}
		dist := *d.Distance
		inner, outer := p.thresholds(*d.Speed)

		prev, armed := out.DriverCriticalActive[sid]
		if dist <= inner && pedCount > 0 {
			if !armed || math.Abs(prev-dist) >= p.DebounceDelta {
				out.DriverCriticalActive[sid] = dist
				out.Events = append(out.Events, Event{
					Name:    EventDriverCritical,
					SIDs:    []string{sid},
					Payload: alertPayload(s.ID, ts),
				})
			}
		} else if armed {
			delete(out.DriverCriticalActive, sid)
			out.Events = append(out.Events, Event{
				Name:    EventAlertEnd,
				SIDs:    []string{sid},
				Payload: alertPayload(s.ID, ts),
			})
		}

		if dist <= outer && pedCount > 0 && (aggMin == nil || dist < *aggMin) {
			aggMin = &dist
		}
	}

	// Aggregate pedestrian alert: a single crosswalk-wide state keyed on the
	// minimum qualifying distance. No qualifier (including zero drivers or
	// zero pedestrians) drives an active alert to its end.
	prevPed := s.PedCriticalMinDistance
	switch {
	case aggMin != nil && (prevPed == nil || math.Abs(*prevPed-*aggMin) >= p.DebounceDelta):
		out.PedCriticalMinDistance = aggMin
		out.Events = append(out.Events, Event{
			Name:    EventPedCritical,
			SIDs:    pedSIDs,
			Payload: PedCriticalPayload(s.ID, *aggMin, ts),
		})
	case aggMin != nil:
		// Within the debounce window: keep the recorded trigger distance.
		out.PedCriticalMinDistance = prevPed
	case prevPed != nil:
		out.Events = append(out.Events, Event{
			Name:    EventAlertEnd,
			SIDs:    pedSIDs,
			Payload: alertPayload(s.ID, ts),
		})
	}

	// Presence goes to everyone on every pass, alert or not.
	recipients := append(append([]string{}, pedSIDs...), driverSIDs...)
	out.Events = append(out.Events, Event{
		Name:    EventPresence,
		SIDs:    recipients,
		Payload: presencePayload(s.ID, pedCount, len(out.Drivers), ts),
	})

	return out
}
