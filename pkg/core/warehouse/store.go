// Package warehouse owns the Postgres side of the pipeline: schema
// bootstrap and idempotent batch merges keyed on each source's natural
// key.
package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"govsignal/pkg/core/source"
)

// Store is an explicit warehouse handle. It is constructed once at
// startup, passed to whoever needs it, and closed by its owner; there
// is no package-level pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to the warehouse at dsn and verifies the connection.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("warehouse dsn is empty")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse warehouse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("warehouse unreachable: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates each source's destination table and the unique
// index backing its natural key, if absent.
func (s *Store) EnsureSchema(ctx context.Context, sources []source.Source) error {
	for _, src := range sources {
		for _, stmt := range schemaSQL(src) {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to ensure schema for %s: %w", src.Table, err)
			}
		}
	}
	return nil
}

// schemaSQL returns the DDL for one source's destination table.
func schemaSQL(src source.Source) []string {
	cols := make([]string, 0, len(src.Schema)+1)
	for _, c := range src.Schema {
		cols = append(cols, fmt.Sprintf("%s %s", c.Name, c.Type))
	}
	cols = append(cols, "updated_at TIMESTAMPTZ NOT NULL DEFAULT now()")

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		src.Table, strings.Join(cols, ",\n  "))
	index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_natural_key ON %s (%s);",
		src.Table, src.Table, strings.Join(src.NaturalKey, ", "))
	return []string{create, index}
}
