package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/crossguard/crossguard/internal/risk"
	"github.com/crossguard/crossguard/internal/session"
)

// Inbound event names.
const (
	eventPedEnter     = "ped_enter"
	eventPedLeave     = "ped_leave"
	eventDriverEnter  = "driver_enter"
	eventDriverUpdate = "driver_update"
	eventDriverLeave  = "driver_leave"
	eventPredict      = "predict"
)

// flexID accepts a crosswalk id as either a JSON string or a JSON number,
// normalizing numbers to their decimal string form.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err == nil {
		*f = flexID(n.String())
		return nil
	}
	return fmt.Errorf("crosswalk_id must be a string or number")
}

type presencePayload struct {
	CrosswalkID flexID   `json:"crosswalk_id"`
	Distance    *float64 `json:"distance"`
	Speed       *float64 `json:"speed"`
}

type predictPayload struct {
	Username string `json:"username"`
	Image    string `json:"image"`
	ImageB64 string `json:"imageAsBase64"`
	Save     bool   `json:"save"`
}

// image returns the frame under either of the accepted field names.
func (p predictPayload) image() string {
	if p.Image != "" {
		return p.Image
	}
	return p.ImageB64
}

// HandleEvent routes one inbound event for a session. Mutations are applied
// immediately and unconditionally; evaluation is then requested through the
// lease so concurrent passes on the same crosswalk never overlap.
func (g *Gateway) HandleEvent(ctx context.Context, sid, event string, data json.RawMessage) {
	switch event {
	case eventPedEnter:
		g.pedEnter(ctx, sid, data)
	case eventPedLeave:
		g.pedLeave(ctx, sid, data)
	case eventDriverEnter:
		g.driverEnter(ctx, sid, data)
	case eventDriverUpdate:
		g.driverUpdate(ctx, sid, data)
	case eventDriverLeave:
		g.driverLeave(ctx, sid, data)
	case eventPredict:
		g.predict(ctx, sid, data)
	default:
		g.logger.Debug("unknown event", "sid", sid, "event", event)
	}
}

func (g *Gateway) decodePresence(sid, event string, data json.RawMessage) (presencePayload, bool) {
	var p presencePayload
	if err := json.Unmarshal(data, &p); err != nil || p.CrosswalkID == "" {
		g.logger.Debug("malformed payload", "sid", sid, "event", event, "error", err)
		return p, false
	}
	return p, true
}

// fail surfaces a store failure on a client action back to that client.
func (g *Gateway) fail(ctx context.Context, sid, event string, err error) {
	g.logger.Warn("client action failed", "sid", sid, "event", event, "error", err)
	g.emitter.Emit(ctx, []string{sid}, "error", map[string]any{
		"event":   event,
		"message": "temporarily unavailable",
	})
}

func (g *Gateway) pedEnter(ctx context.Context, sid string, data json.RawMessage) {
	p, ok := g.decodePresence(sid, eventPedEnter, data)
	if !ok {
		return
	}
	id := string(p.CrosswalkID)

	if err := g.sessions.SetRole(ctx, sid, session.RolePed); err != nil {
		g.fail(ctx, sid, eventPedEnter, err)
		return
	}
	if err := g.registry.AddPed(ctx, id, sid); err != nil {
		g.fail(ctx, sid, eventPedEnter, err)
		return
	}

	// Rejoin replay: a pedestrian arriving while the aggregate alert is
	// active hears it immediately instead of waiting for the next pass.
	if state, found, err := g.registry.Get(ctx, id); err == nil && found && state.PedCriticalMinDistance != nil {
		g.emitter.Emit(ctx, []string{sid}, risk.EventPedCritical,
			risk.PedCriticalPayload(id, *state.PedCriticalMinDistance, g.now().Unix()))
	}

	g.requestEvaluation(ctx, id)
}

func (g *Gateway) pedLeave(ctx context.Context, sid string, data json.RawMessage) {
	p, ok := g.decodePresence(sid, eventPedLeave, data)
	if !ok {
		return
	}
	id := string(p.CrosswalkID)

	if err := g.registry.RemovePed(ctx, id, sid); err != nil {
		g.fail(ctx, sid, eventPedLeave, err)
		return
	}
	g.requestEvaluation(ctx, id)
}

func (g *Gateway) driverEnter(ctx context.Context, sid string, data json.RawMessage) {
	p, ok := g.decodePresence(sid, eventDriverEnter, data)
	if !ok || p.Distance == nil {
		g.logger.Debug("driver_enter without distance", "sid", sid)
		return
	}
	id := string(p.CrosswalkID)

	if err := g.sessions.SetRole(ctx, sid, session.RoleDriver); err != nil {
		g.fail(ctx, sid, eventDriverEnter, err)
		return
	}
	if err := g.registry.AddDriver(ctx, id, sid, *p.Distance, p.Speed); err != nil {
		g.fail(ctx, sid, eventDriverEnter, err)
		return
	}
	g.requestEvaluation(ctx, id)
}

func (g *Gateway) driverUpdate(ctx context.Context, sid string, data json.RawMessage) {
	p, ok := g.decodePresence(sid, eventDriverUpdate, data)
	if !ok || p.Distance == nil {
		return
	}
	id := string(p.CrosswalkID)

	if err := g.registry.UpdateDriver(ctx, id, sid, *p.Distance, p.Speed); err != nil {
		g.fail(ctx, sid, eventDriverUpdate, err)
		return
	}
	g.requestEvaluation(ctx, id)
}

func (g *Gateway) driverLeave(ctx context.Context, sid string, data json.RawMessage) {
	p, ok := g.decodePresence(sid, eventDriverLeave, data)
	if !ok {
		return
	}
	id := string(p.CrosswalkID)

	if err := g.registry.RemoveDriver(ctx, id, sid); err != nil {
		g.fail(ctx, sid, eventDriverLeave, err)
		return
	}
	g.requestEvaluation(ctx, id)
}

func (g *Gateway) requestEvaluation(ctx context.Context, id string) {
	if err := g.requester.Request(ctx, id); err != nil {
		g.logger.Warn("evaluation request failed", "crosswalk_id", id, "error", err)
	}
}

// predict runs off the read loop so a slow model call does not stall the
// session's other events.
func (g *Gateway) predict(ctx context.Context, sid string, data json.RawMessage) {
	var p predictPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Username == "" || p.image() == "" {
		g.logger.Debug("malformed predict payload", "sid", sid, "error", err)
		return
	}
	frame := p.image()

	go func() {
		predictCtx, cancel := context.WithTimeout(context.Background(), predictTimeout)
		defer cancel()

		isCrosswalk, err := g.predictor.Predict(predictCtx, frame)
		if err != nil {
			g.emitter.Emit(predictCtx, []string{sid}, "predict_error_"+p.Username, map[string]any{
				"message": err.Error(),
			})
			return
		}

		g.emitter.Emit(predictCtx, []string{sid}, "predict_result_"+p.Username, map[string]any{
			"is_crosswalk": isCrosswalk,
		})

		if p.Save && g.uploader != nil {
			if _, err := g.uploader.UploadDataURL(predictCtx, frame, isCrosswalk); err != nil {
				g.logger.Warn("frame upload failed", "sid", sid, "error", err)
			}
		}
	}()
}
