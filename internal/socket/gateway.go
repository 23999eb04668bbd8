// Package socket is the realtime gateway: it upgrades client connections,
// assigns session ids, routes inbound events to the registry, and requests
// evaluation passes. All crosswalk state lives in the store; the gateway
// holds nothing beyond the live connections themselves.
package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/crossguard/crossguard/internal/crosswalk"
	"github.com/crossguard/crossguard/internal/push"
	"github.com/crossguard/crossguard/internal/session"
)

// Requester requests an evaluation pass for a crosswalk.
type Requester interface {
	Request(ctx context.Context, id string) error
}

// Emitter fans an event out to session ids, best-effort.
type Emitter interface {
	Emit(ctx context.Context, sids []string, event string, payload map[string]any)
}

// Predictor is the external crosswalk classifier boundary.
type Predictor interface {
	Predict(ctx context.Context, imageDataURL string) (bool, error)
}

// Uploader is the blob-storage boundary for classified frames.
type Uploader interface {
	UploadDataURL(ctx context.Context, dataURL string, isCrosswalk bool) (string, error)
}

const (
	readLimit      = 8 << 20 // classified frames arrive inline as base64
	cleanupTimeout = 10 * time.Second
	predictTimeout = 30 * time.Second
)

// Gateway terminates websocket sessions and routes their events.
type Gateway struct {
	sessions  *session.Registry
	registry  *crosswalk.Registry
	requester Requester
	emitter   Emitter
	hub       *push.Hub
	predictor Predictor
	uploader  Uploader // nil = uploads disabled
	logger    *slog.Logger
	now       func() time.Time

	upgrader websocket.Upgrader
}

// NewGateway wires the gateway. uploader may be nil.
func NewGateway(sessions *session.Registry, registry *crosswalk.Registry, requester Requester, emitter Emitter, hub *push.Hub, predictor Predictor, uploader Uploader, logger *slog.Logger) *Gateway {
	return &Gateway{
		sessions:  sessions,
		registry:  registry,
		requester: requester,
		emitter:   emitter,
		hub:       hub,
		predictor: predictor,
		uploader:  uploader,
		logger:    logger,
		now:       time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Session-level auth is out of scope; origins are filtered by CORS
			// on the REST surface and the deployment's ingress.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// inbound is the wire envelope for client-to-server events.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandleWS serves one client connection until it closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sid := uuid.NewString()
	conn.SetReadLimit(readLimit)
	g.hub.Register(sid, conn)

	ctx := r.Context()
	if err := g.sessions.Connect(ctx, sid); err != nil {
		g.logger.Warn("session create failed", "sid", sid, "error", err)
		g.hub.Unregister(sid)
		return
	}
	g.logger.Debug("session connected", "sid", sid)

	defer func() {
		g.hub.Unregister(sid)
		// The request context is gone once the read loop ends; cleanup gets
		// its own bounded context.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		g.disconnect(cleanupCtx, sid)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Debug("websocket read failed", "sid", sid, "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.logger.Debug("malformed event envelope", "sid", sid, "error", err)
			continue
		}
		g.HandleEvent(ctx, sid, msg.Event, msg.Data)
	}
}

// disconnect clears the session and removes the sid from every crosswalk it
// was present at, requesting re-evaluation for each.
func (g *Gateway) disconnect(ctx context.Context, sid string) {
	role, err := g.sessions.Disconnect(ctx, sid)
	if err != nil {
		g.logger.Warn("session cleanup failed", "sid", sid, "error", err)
	}

	affected, err := g.registry.RemoveSession(ctx, sid, role)
	if err != nil {
		g.logger.Warn("crosswalk cleanup failed", "sid", sid, "error", err)
	}
	for _, id := range affected {
		if err := g.requester.Request(ctx, id); err != nil {
			g.logger.Warn("evaluation request failed", "crosswalk_id", id, "error", err)
		}
	}
	g.logger.Debug("session disconnected", "sid", sid, "role", role, "crosswalks", len(affected))
}
