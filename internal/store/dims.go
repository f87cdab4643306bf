package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// StoredDims returns the embedding width of the stored parents, or 0 when
// the store is empty.
func (s *SQLiteStore) StoredDims(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT length(summary_embedding) FROM parents LIMIT 1`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stored dims: %w", err)
	}
	return n / 4, nil
}

// CheckDims fails when the store already holds vectors of a width other
// than dims. vec_l2 cannot compare vectors of different widths.
func (s *SQLiteStore) CheckDims(ctx context.Context, dims int) error {
	have, err := s.StoredDims(ctx)
	if err != nil {
		return err
	}
	if have != 0 && have != dims {
		return fmt.Errorf("%w: store holds %d-dim vectors, embedder produces %d", ErrDimensionMismatch, have, dims)
	}
	return nil
}
