// Package store abstracts the shared document store that holds crosswalk,
// session, and lease state. Two implementations exist: an in-memory store for
// single-instance deployments and tests, and a Postgres-backed store for
// multi-instance deployments where every service instance must observe the
// same documents.
package store

import (
	"context"
	"errors"
	"strings"
)

// Collection names the three document collections the engine uses.
type Collection string

const (
	Crosswalks Collection = "crosswalks"
	Sessions   Collection = "sessions"
	Leases     Collection = "leases"
)

// Document is a JSON-shaped document: values are restricted to the types
// encoding/json produces (float64, string, bool, map[string]any, []any, nil).
type Document = map[string]any

// removeField is the distinguished marker for deleting a subfield in Update.
type removeField struct{}

// Remove, passed as a field value to Update, deletes the field at that path
// instead of setting it.
var Remove any = removeField{}

func isRemove(v any) bool {
	_, ok := v.(removeField)
	return ok
}

// ErrUnavailable wraps every transport or storage failure. Expected outcomes
// (document absent, key already exists) are reported as booleans, not errors.
var ErrUnavailable = errors.New("store unavailable")

// Store is the capability set every other component consumes.
//
// Update merges named fields into an existing document. Field names are
// dot-separated paths ("drivers.<sid>.distance"); intermediate path elements
// must already exist or the individual set is a no-op, and updating an absent
// document is a no-op. This keeps concurrent writers to different subfields
// of the same document safe without read-modify-write cycles.
//
// Upsert is the atomic form of ensure-then-merge: when the document is
// absent it is created from initial, otherwise fields are merged into the
// existing document, in one operation. Join paths must use it rather than
// CreateIfAbsent followed by Update, because a concurrent Delete can land
// between those two calls and silently swallow the merge.
//
// CompareAndDelete removes the document only if it still equals expected,
// so an observer that decided to collect a document cannot delete state
// written after its observation.
type Store interface {
	Get(ctx context.Context, col Collection, key string) (Document, bool, error)
	CreateIfAbsent(ctx context.Context, col Collection, key string, initial Document) (created bool, err error)
	Upsert(ctx context.Context, col Collection, key string, initial Document, fields map[string]any) error
	Update(ctx context.Context, col Collection, key string, fields map[string]any) error
	Delete(ctx context.Context, col Collection, key string) error
	CompareAndDelete(ctx context.Context, col Collection, key string, expected Document) (deleted bool, err error)
	ListKeys(ctx context.Context, col Collection) ([]string, error)
}

// splitPath splits a dot-separated field path into its elements.
func splitPath(path string) []string {
	return strings.Split(path, ".")
}
