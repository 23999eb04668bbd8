// Package session tracks the role of each connected session id. The role is
// set on the first enter event and consulted only at disconnect, to narrow
// the scan-and-remove over crosswalks.
package session

import (
	"context"

	"github.com/crossguard/crossguard/internal/store"
)

const (
	RolePed    = "ped"
	RoleDriver = "driver"
)

// Registry stores sid -> role documents.
type Registry struct {
	store store.Store
}

// NewRegistry creates a session registry over the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// Connect records a new session with no role yet. Idempotent.
func (r *Registry) Connect(ctx context.Context, sid string) error {
	_, err := r.store.CreateIfAbsent(ctx, store.Sessions, sid, store.Document{"role": nil})
	return err
}

// SetRole records the session's role. Rejoining under a different role simply
// overwrites it; the caller is responsible for leaving the previous crosswalk.
func (r *Registry) SetRole(ctx context.Context, sid, role string) error {
	return r.store.Update(ctx, store.Sessions, sid, map[string]any{"role": role})
}

// Role returns the session's current role, or "" when unset or unknown.
func (r *Registry) Role(ctx context.Context, sid string) (string, error) {
	doc, ok, err := r.store.Get(ctx, store.Sessions, sid)
	if err != nil || !ok {
		return "", err
	}
	role, _ := doc["role"].(string)
	return role, nil
}

// Disconnect removes the session document and returns the role it had, so
// the caller can scope the crosswalk cleanup scan.
func (r *Registry) Disconnect(ctx context.Context, sid string) (string, error) {
	role, err := r.Role(ctx, sid)
	if err != nil {
		return "", err
	}
	if err := r.store.Delete(ctx, store.Sessions, sid); err != nil {
		return role, err
	}
	return role, nil
}
