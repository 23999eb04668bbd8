// Package handler provides HTTP handlers for the REST surface: health checks
// and read-only crosswalk snapshots for dashboards and operations. All
// realtime traffic goes over the websocket gateway, not these endpoints.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crossguard/crossguard/internal/api/respond"
	"github.com/crossguard/crossguard/internal/cache"
	"github.com/crossguard/crossguard/internal/config"
	"github.com/crossguard/crossguard/internal/crosswalk"
	"github.com/crossguard/crossguard/internal/store"
)

// healthChecker is implemented by the Postgres store; the memory store is
// always healthy.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	store    store.Store
	registry *crosswalk.Registry
	cache    *cache.Cache
	cfg      *config.Config
}

// New creates a Handler with shared dependencies.
func New(s store.Store, registry *crosswalk.Registry, c *cache.Cache, cfg *config.Config) *Handler {
	return &Handler{store: s, registry: registry, cache: c, cfg: cfg}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Crossguard API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
		"store":   h.cfg.StoreBackend,
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckStore verifies state store connectivity.
// @Summary State store health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/store [get]
func (h *Handler) HealthCheckStore(w http.ResponseWriter, r *http.Request) {
	var err error
	if hc, ok := h.store.(healthChecker); ok {
		err = hc.HealthCheck(r.Context())
	} else {
		_, err = h.store.ListKeys(r.Context(), store.Crosswalks)
	}
	if err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"store":     "disconnected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"store":     "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type crosswalkSummary struct {
	CrosswalkID string `json:"crosswalk_id"`
	PedCount    int    `json:"ped_count"`
	DriverCount int    `json:"driver_count"`
}

// ListCrosswalks enumerates known crosswalks with presence counts.
// @Summary List crosswalks
// @Description Returns every known crosswalk with its current pedestrian and driver counts.
// @Tags crosswalks
// @Produce json
// @Success 200 {array} crosswalkSummary
// @Router /api/v1/crosswalks [get]
func (h *Handler) ListCrosswalks(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "crosswalks:list"
	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLSnapshot, true)
		return
	}

	ids, err := h.registry.ListIDs(r.Context())
	if err != nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "state store unreachable")
		return
	}

	summaries := make([]crosswalkSummary, 0, len(ids))
	for _, id := range ids {
		state, ok, err := h.registry.Get(r.Context(), id)
		if err != nil {
			respond.WriteError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "state store unreachable")
			return
		}
		if !ok {
			continue
		}
		summaries = append(summaries, crosswalkSummary{
			CrosswalkID: id,
			PedCount:    len(state.Peds),
			DriverCount: len(state.Drivers),
		})
	}

	data, err := json.Marshal(summaries)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "failed to encode response")
		return
	}
	etag := h.cache.Set(cacheKey, data, cache.TTLSnapshot)
	respond.WriteJSON(w, data, etag, cache.TTLSnapshot, false)
}

type driverSnapshot struct {
	Distance *float64 `json:"distance"`
	Speed    *float64 `json:"speed,omitempty"`
	Ts       float64  `json:"ts"`
}

type crosswalkSnapshot struct {
	CrosswalkID            string                    `json:"crosswalk_id"`
	Peds                   []string                  `json:"peds"`
	Drivers                map[string]driverSnapshot `json:"drivers"`
	PedCriticalMinDistance *float64                  `json:"ped_critical_min_distance,omitempty"`
	DriverCriticalActive   map[string]float64        `json:"driver_critical_active"`
}

// GetCrosswalk returns one crosswalk's full presence snapshot.
// @Summary Crosswalk snapshot
// @Description Returns presence, telemetry, and active-alert state for one crosswalk.
// @Tags crosswalks
// @Produce json
// @Param id path string true "Crosswalk id"
// @Success 200 {object} crosswalkSnapshot
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/crosswalks/{id} [get]
func (h *Handler) GetCrosswalk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, ok, err := h.registry.Get(r.Context(), id)
	if err != nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "state store unreachable")
		return
	}
	if !ok {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown crosswalk")
		return
	}

	snapshot := crosswalkSnapshot{
		CrosswalkID:            id,
		Peds:                   state.PedSIDs(),
		Drivers:                make(map[string]driverSnapshot, len(state.Drivers)),
		PedCriticalMinDistance: state.PedCriticalMinDistance,
		DriverCriticalActive:   state.DriverCriticalActive,
	}
	for sid, d := range state.Drivers {
		snapshot.Drivers[sid] = driverSnapshot{Distance: d.Distance, Speed: d.Speed, Ts: d.ReportedAt}
	}

	respond.WriteJSONObject(w, http.StatusOK, snapshot)
}
