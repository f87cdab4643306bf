package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
)

// ExportedUtterance is one parent with its chunks and vectors, as written
// by ExportAll and read back by Import.
type ExportedUtterance struct {
	Parent           model.ParentDocument `json:"parent"`
	SummaryEmbedding []float32            `json:"summary_embedding"`
	Chunks           []ExportedChunk      `json:"chunks"`
}

// ExportedChunk carries a chunk with its embedding.
type ExportedChunk struct {
	model.MemoryChunk
	Embedding []float32 `json:"embedding"`
}

// ExportAll returns every parent with its chunks, optionally limited to a
// session, oldest first.
func (s *SQLiteStore) ExportAll(ctx context.Context, sessionID string) ([]ExportedUtterance, error) {
	q := `SELECT id FROM parents`
	var args []any
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list parents: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ExportedUtterance, 0, len(ids))
	for _, id := range ids {
		p, chunks, err := s.GetParent(ctx, id)
		if err != nil {
			return nil, err
		}
		u := ExportedUtterance{Parent: *p, SummaryEmbedding: p.SummaryEmbedding}
		for _, c := range chunks {
			vec, err := s.chunkEmbedding(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			u.Chunks = append(u.Chunks, ExportedChunk{MemoryChunk: c, Embedding: vec})
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *SQLiteStore) chunkEmbedding(ctx context.Context, id string) ([]float32, error) {
	var blob []byte
	if err := s.db.QueryRowContext(ctx, `SELECT embedding FROM chunks WHERE id = ?`, id).Scan(&blob); err != nil {
		return nil, fmt.Errorf("chunk embedding %s: %w", id, err)
	}
	return embedding.Decode(blob)
}

// Import writes exported utterances back, keeping their ids and timestamps.
// Parents that already exist are skipped. Each utterance is one transaction.
func (s *SQLiteStore) Import(ctx context.Context, items []ExportedUtterance) (int, error) {
	dims, err := s.StoredDims(ctx)
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, u := range items {
		if dims == 0 {
			dims = len(u.SummaryEmbedding)
		}
		if err := u.checkDims(dims); err != nil {
			return imported, err
		}
		ok, err := s.importOne(ctx, u)
		if err != nil {
			return imported, err
		}
		if ok {
			imported++
		}
	}
	return imported, nil
}

func (u ExportedUtterance) checkDims(dims int) error {
	if len(u.SummaryEmbedding) != dims {
		return fmt.Errorf("%w: parent %q has %d values, want %d", ErrDimensionMismatch, u.Parent.ID, len(u.SummaryEmbedding), dims)
	}
	for _, c := range u.Chunks {
		if len(c.Embedding) != dims {
			return fmt.Errorf("%w: chunk %q has %d values, want %d", ErrDimensionMismatch, c.ID, len(c.Embedding), dims)
		}
	}
	return nil
}

func (s *SQLiteStore) importOne(ctx context.Context, u ExportedUtterance) (bool, error) {
	p := u.Parent
	if !p.Speaker.Valid() || p.ID == "" || len(u.Chunks) == 0 {
		return false, fmt.Errorf("%w: malformed export entry %q", ErrInvalidInput, p.ID)
	}

	inserted := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := execCount(ctx, tx,
			`INSERT OR IGNORE INTO parents (id, session_id, speaker, full_text, summary, summary_embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SessionID, string(p.Speaker), p.FullText, p.Summary,
			embedding.Encode(u.SummaryEmbedding), p.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("import parent: %w", err)
		}
		if n == 0 {
			return nil
		}
		for _, c := range u.Chunks {
			tags := c.Tags
			if tags == nil {
				tags = []string{}
			}
			tagsJSON, _ := json.Marshal(tags)
			created := c.CreatedAt
			if created.IsZero() {
				created = p.CreatedAt
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (id, parent_id, content, speaker, embedding, topic, importance, tags, session_id, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, p.ID, c.Content, string(p.Speaker), embedding.Encode(c.Embedding), c.Topic,
				model.ClampImportance(c.Importance), string(tagsJSON), p.SessionID,
				created.UTC().Format(timeLayout)); err != nil {
				return fmt.Errorf("import chunk: %w", err)
			}
		}
		inserted = true
		return nil
	})
	return inserted, err
}
