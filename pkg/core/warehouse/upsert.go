package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"govsignal/pkg/core/source"
	"govsignal/pkg/models"
)

// MergeRows writes a batch of resolved records into src's destination
// table inside one transaction. Rows whose natural key already exists
// have their mutable columns refreshed instead of being duplicated, so
// re-running a window is a no-op for unchanged data.
func (s *Store) MergeRows(ctx context.Context, src source.Source, rows []models.ResolvedRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	sql := buildMergeSQL(src)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rec := range rows {
		batch.Queue(sql, src.Values(rec)...)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("merge into %s failed: %w", src.Table, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close merge batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit merge: %w", err)
	}
	return len(rows), nil
}

// buildMergeSQL renders the parameterized upsert for one source:
// INSERT ... ON CONFLICT (natural key) DO UPDATE on the mutable
// columns. With no mutable columns it degrades to DO NOTHING.
func buildMergeSQL(src source.Source) string {
	colNames := make([]string, len(src.Schema))
	params := make([]string, len(src.Schema))
	for i, c := range src.Schema {
		colNames[i] = c.Name
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	var conflict string
	if len(src.UpdateColumns) == 0 {
		conflict = "DO NOTHING"
	} else {
		sets := make([]string, 0, len(src.UpdateColumns)+1)
		for _, c := range src.UpdateColumns {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
		sets = append(sets, "updated_at = now()")
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		src.Table,
		strings.Join(colNames, ", "),
		strings.Join(params, ", "),
		strings.Join(src.NaturalKey, ", "),
		conflict)
}
