package store

import (
	"context"
	"fmt"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string         `json:"db_path"`
	DBSizeBytes int64          `json:"db_size_bytes"`
	Parents     int            `json:"parents"`
	Chunks      int            `json:"chunks"`
	Orphans     int            `json:"orphan_parents"`
	Sessions    []SessionStats `json:"sessions"`
	Topics      []TopicStats   `json:"topics"`
}

// SessionStats holds per-session counts.
type SessionStats struct {
	SessionID string `json:"session_id"`
	Parents   int    `json:"parents"`
	Chunks    int    `json:"chunks"`
}

// TopicStats holds per-topic chunk counts.
type TopicStats struct {
	Topic         string  `json:"topic"`
	Chunks        int     `json:"chunks"`
	AvgImportance float64 `json:"avg_importance"`
}

// Counts returns the number of parents and chunks.
func (s *SQLiteStore) Counts(ctx context.Context) (parents, chunks int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parents`).Scan(&parents); err != nil {
		return 0, 0, fmt.Errorf("count parents: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return 0, 0, fmt.Errorf("count chunks: %w", err)
	}
	return parents, chunks, nil
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	// DB file size
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	var err error
	if st.Parents, st.Chunks, err = s.Counts(ctx); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM parents p WHERE NOT EXISTS (SELECT 1 FROM chunks c WHERE c.parent_id = p.id)`).
		Scan(&st.Orphans); err != nil {
		return nil, fmt.Errorf("count orphans: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.session_id, COUNT(DISTINCT p.id), COUNT(c.id)
		FROM parents p LEFT JOIN chunks c ON c.parent_id = p.id
		GROUP BY p.session_id ORDER BY COUNT(c.id) DESC`)
	if err != nil {
		return st, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ss SessionStats
		if err := rows.Scan(&ss.SessionID, &ss.Parents, &ss.Chunks); err != nil {
			return st, err
		}
		st.Sessions = append(st.Sessions, ss)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	trows, err := s.db.QueryContext(ctx, `
		SELECT topic, COUNT(*), AVG(importance)
		FROM chunks GROUP BY topic ORDER BY COUNT(*) DESC`)
	if err != nil {
		return st, fmt.Errorf("topic stats: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var ts TopicStats
		if err := trows.Scan(&ts.Topic, &ts.Chunks, &ts.AvgImportance); err != nil {
			return st, err
		}
		st.Topics = append(st.Topics, ts)
	}
	return st, trows.Err()
}
