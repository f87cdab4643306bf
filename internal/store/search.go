package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
)

// NearestParents returns up to limit parents ordered by Euclidean distance
// between their summary embedding and vec. This is a full scan through
// the registered vec_l2 function.
func (s *SQLiteStore) NearestParents(ctx context.Context, vec []float32, limit int) ([]ParentMatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dist FROM (
			SELECT id, created_at, vec_l2(summary_embedding, ?) AS dist FROM parents
		 )
		 WHERE dist IS NOT NULL
		 ORDER BY dist ASC, created_at DESC
		 LIMIT ?`, embedding.Encode(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("nearest parents: %w", err)
	}
	defer rows.Close()

	var out []ParentMatch
	for rows.Next() {
		var m ParentMatch
		if err := rows.Scan(&m.ID, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan parent match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ChunkCandidates returns every chunk belonging to parentIDs with its
// distance to vec and its keyword score against match.
func (s *SQLiteStore) ChunkCandidates(ctx context.Context, parentIDs []string, vec []float32, match string) ([]Candidate, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(parentIDs)), ",")

	args := []any{embedding.Encode(vec)}
	keyword := `0.0`
	join := ``
	if match != "" {
		keyword = `COALESCE(k.score, 0.0)`
		join = `LEFT JOIN (
			SELECT rowid, -bm25(chunks_fts) AS score
			FROM chunks_fts WHERE chunks_fts MATCH ?
		) k ON k.rowid = c.rowid`
		args = append(args, match)
	}
	for _, id := range parentIDs {
		args = append(args, id)
	}

	q := fmt.Sprintf(`
		SELECT %s, vec_l2(c.embedding, ?) AS dist, %s AS kw
		FROM chunks c
		%s
		WHERE c.parent_id IN (%s)`, chunkColumns, keyword, join, placeholders)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("chunk candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var dist sql.NullFloat64
		var kw float64
		c, err := scanChunk(rows, &dist, &kw)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if !dist.Valid {
			continue
		}
		out = append(out, Candidate{Chunk: c, Distance: dist.Float64, BM25: kw})
	}
	return out, rows.Err()
}

// MatchQuery builds an FTS5 expression requiring every content word of
// text, the way a plain-text query is parsed. Returns "" when nothing
// searchable remains.
func MatchQuery(text string) string {
	var terms []string
	seen := map[string]bool{}
	for _, w := range embedding.ContentWords(text) {
		if utf8.RuneCountInString(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " AND ")
}

// RecentChunks lists the newest chunks of a session, newest first.
func (s *SQLiteStore) RecentChunks(ctx context.Context, sessionID string, limit int) ([]model.MemoryChunk, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks c
		 WHERE c.session_id = ?
		 ORDER BY c.created_at DESC, c.rowid DESC
		 LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent chunks: %w", err)
	}
	defer rows.Close()

	var out []model.MemoryChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetParent returns a parent and its chunks in insertion order.
func (s *SQLiteStore) GetParent(ctx context.Context, id string) (*model.ParentDocument, []model.MemoryChunk, error) {
	var p model.ParentDocument
	var speaker, created string
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, speaker, full_text, summary, summary_embedding, created_at
		 FROM parents WHERE id = ?`, id).
		Scan(&p.ID, &p.SessionID, &speaker, &p.FullText, &p.Summary, &blob, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("parent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get parent: %w", err)
	}
	p.Speaker = model.Speaker(speaker)
	p.CreatedAt, _ = time.Parse(timeLayout, created)
	if p.SummaryEmbedding, err = embedding.Decode(blob); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks c WHERE c.parent_id = ? ORDER BY c.rowid`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.MemoryChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	p.ChunkCount = len(chunks)
	return &p, chunks, rows.Err()
}
