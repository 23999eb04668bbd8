package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossguard/crossguard/internal/cache"
	"github.com/crossguard/crossguard/internal/config"
	"github.com/crossguard/crossguard/internal/crosswalk"
	"github.com/crossguard/crossguard/internal/store"
)

func newTestRouter(t *testing.T) (chi.Router, *crosswalk.Registry) {
	t.Helper()
	st := store.NewMemory()
	registry := crosswalk.NewRegistry(st)
	h := New(st, registry, cache.New(true), &config.Config{StoreBackend: config.StoreMemory})

	r := chi.NewRouter()
	r.Get("/", h.Root)
	r.Get("/health", h.HealthCheck)
	r.Get("/health/store", h.HealthCheckStore)
	r.Get("/api/v1/crosswalks", h.ListCrosswalks)
	r.Get("/api/v1/crosswalks/{id}", h.GetCrosswalk)
	return r, registry
}

func get(t *testing.T, r chi.Router, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := get(t, r, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, r, "/health/store", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "connected", body["store"])
}

func TestListCrosswalks(t *testing.T) {
	ctx := context.Background()
	r, registry := newTestRouter(t)

	require.NoError(t, registry.AddPed(ctx, "7", "p1"))
	require.NoError(t, registry.AddPed(ctx, "7", "p2"))
	require.NoError(t, registry.AddDriver(ctx, "9", "d1", 100, nil))

	rec := get(t, r, "/api/v1/crosswalks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "7", summaries[0]["crosswalk_id"])
	assert.Equal(t, 2.0, summaries[0]["ped_count"])
	assert.Equal(t, "9", summaries[1]["crosswalk_id"])
	assert.Equal(t, 1.0, summaries[1]["driver_count"])

	t.Run("etag revalidation", func(t *testing.T) {
		etag := rec.Header().Get("ETag")
		require.NotEmpty(t, etag)

		rec := get(t, r, "/api/v1/crosswalks", http.Header{"If-None-Match": []string{etag}})
		assert.Equal(t, http.StatusNotModified, rec.Code)
	})
}

func TestGetCrosswalk(t *testing.T) {
	ctx := context.Background()
	r, registry := newTestRouter(t)

	require.NoError(t, registry.AddPed(ctx, "7", "p1"))
	speed := 10.0
	require.NoError(t, registry.AddDriver(ctx, "7", "d1", 40, &speed))

	rec := get(t, r, "/api/v1/crosswalks/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "7", snap["crosswalk_id"])
	assert.Equal(t, []any{"p1"}, snap["peds"])
	drivers := snap["drivers"].(map[string]any)
	require.Contains(t, drivers, "d1")
	assert.Equal(t, 40.0, drivers["d1"].(map[string]any)["distance"])

	t.Run("unknown id", func(t *testing.T) {
		rec := get(t, r, "/api/v1/crosswalks/999", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
