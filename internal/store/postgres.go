package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig sizes the connection pool.
type PostgresConfig struct {
	DatabaseURL string
	MinConns    int
	MaxConns    int
	MaxConnLife time.Duration
}

// Postgres is a Store backed by a single documents table. Documents are jsonb
// values; partial field updates compose jsonb_set / #- expressions so two
// writers touching different subfields never clobber each other.
type Postgres struct {
	pool *pgxpool.Pool
}

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection text NOT NULL,
	key text NOT NULL,
	doc jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, key)
)`

// NewPostgres creates and validates a connection pool, then ensures the
// documents table exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, documentsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// HealthCheck verifies the database is reachable.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	var n int
	return p.pool.QueryRow(ctx, "SELECT 1").Scan(&n)
}

func (p *Postgres) Get(ctx context.Context, col Collection, key string) (Document, bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		"SELECT doc FROM documents WHERE collection = $1 AND key = $2", string(col), key).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s/%s: %v", ErrUnavailable, col, key, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("%w: decode %s/%s: %v", ErrUnavailable, col, key, err)
	}
	return doc, true, nil
}

func (p *Postgres) CreateIfAbsent(ctx context.Context, col Collection, key string, initial Document) (bool, error) {
	raw, err := json.Marshal(initial)
	if err != nil {
		return false, fmt.Errorf("%w: encode %s/%s: %v", ErrUnavailable, col, key, err)
	}
	tag, err := p.pool.Exec(ctx,
		"INSERT INTO documents (collection, key, doc) VALUES ($1, $2, $3) ON CONFLICT (collection, key) DO NOTHING",
		string(col), key, raw)
	if err != nil {
		return false, fmt.Errorf("%w: create %s/%s: %v", ErrUnavailable, col, key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// mergeExpr composes a single jsonb expression over base: removals via #-,
// sets via jsonb_set with create_if_missing. One expression keeps the whole
// merge atomic.
func mergeExpr(base string, col Collection, key string, fields map[string]any, args []any) (string, []any, error) {
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	expr := base
	for _, path := range paths {
		elems := splitPath(path)
		value := fields[path]
		if isRemove(value) {
			args = append(args, elems)
			expr = fmt.Sprintf("(%s #- $%d)", expr, len(args))
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: encode %s/%s field %s: %v", ErrUnavailable, col, key, path, err)
		}
		args = append(args, elems, raw)
		expr = fmt.Sprintf("jsonb_set(%s, $%d, $%d, true)", expr, len(args)-1, len(args))
	}
	return expr, args, nil
}

// Upsert merges fields into the document, creating it from initial when
// absent. The INSERT ... ON CONFLICT DO UPDATE form makes ensure-and-merge a
// single statement, so a concurrent delete can never land between the two.
func (p *Postgres) Upsert(ctx context.Context, col Collection, key string, initial Document, fields map[string]any) error {
	raw, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("%w: encode %s/%s: %v", ErrUnavailable, col, key, err)
	}
	expr, args, err := mergeExpr("documents.doc", col, key, fields, []any{string(col), key, raw})
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(
		"INSERT INTO documents (collection, key, doc) VALUES ($1, $2, $3) "+
			"ON CONFLICT (collection, key) DO UPDATE SET doc = %s, updated_at = now()", expr)
	if _, err := p.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%w: upsert %s/%s: %v", ErrUnavailable, col, key, err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, col Collection, key string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	expr, args, err := mergeExpr("doc", col, key, fields, []any{string(col), key})
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(
		"UPDATE documents SET doc = %s, updated_at = now() WHERE collection = $1 AND key = $2", expr)
	if _, err := p.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%w: update %s/%s: %v", ErrUnavailable, col, key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, col Collection, key string) error {
	_, err := p.pool.Exec(ctx,
		"DELETE FROM documents WHERE collection = $1 AND key = $2", string(col), key)
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", ErrUnavailable, col, key, err)
	}
	return nil
}

// CompareAndDelete relies on jsonb equality being structural, so key order
// and number formatting do not matter.
func (p *Postgres) CompareAndDelete(ctx context.Context, col Collection, key string, expected Document) (bool, error) {
	raw, err := json.Marshal(expected)
	if err != nil {
		return false, fmt.Errorf("%w: encode %s/%s: %v", ErrUnavailable, col, key, err)
	}
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM documents WHERE collection = $1 AND key = $2 AND doc = $3::jsonb",
		string(col), key, raw)
	if err != nil {
		return false, fmt.Errorf("%w: delete %s/%s: %v", ErrUnavailable, col, key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ListKeys(ctx context.Context, col Collection) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT key FROM documents WHERE collection = $1 ORDER BY key", string(col))
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, col, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, col, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, col, err)
	}
	return keys, nil
}
