package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/agent-recall/internal/model"
)

// PruneBySessionPrefix deletes every parent and chunk whose session id
// starts with prefix. The prefix is matched literally and case-sensitively.
func (s *SQLiteStore) PruneBySessionPrefix(ctx context.Context, prefix string) (PruneResult, error) {
	if prefix == "" {
		return PruneResult{}, fmt.Errorf("%w: empty session prefix", ErrInvalidInput)
	}

	var res PruneResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		// Chunks first: rows removed by the cascade are not counted.
		if res.Chunks, err = execCount(ctx, tx,
			`DELETE FROM chunks
			 WHERE substr(session_id, 1, length(?1)) = ?1
			    OR parent_id IN (SELECT id FROM parents WHERE substr(session_id, 1, length(?1)) = ?1)`,
			prefix); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if res.Parents, err = execCount(ctx, tx,
			`DELETE FROM parents WHERE substr(session_id, 1, length(?1)) = ?1`, prefix); err != nil {
			return fmt.Errorf("delete parents: %w", err)
		}
		return nil
	})
	if err != nil {
		return PruneResult{}, err
	}
	s.logPrune("session prefix", res, zap.String("prefix", prefix))
	return res, nil
}

// PruneByAge deletes chunks older than MaxAgeDays with importance at most
// MaxImportance, optionally limited to Topics. Parents are kept.
func (s *SQLiteStore) PruneByAge(ctx context.Context, p AgeParams) (PruneResult, error) {
	if p.MaxAgeDays < 0 {
		return PruneResult{}, fmt.Errorf("%w: negative max age", ErrInvalidInput)
	}
	cutoff := s.now().UTC().Add(-time.Duration(p.MaxAgeDays) * 24 * time.Hour).Format(timeLayout)

	q := `DELETE FROM chunks WHERE importance <= ? AND created_at < ?`
	args := []any{p.MaxImportance, cutoff}
	if len(p.Topics) > 0 {
		q += ` AND topic IN (` + strings.TrimSuffix(strings.Repeat("?,", len(p.Topics)), ",") + `)`
		for _, t := range p.Topics {
			args = append(args, t)
		}
	}

	n, err := execCount(ctx, s.db, q, args...)
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune by age: %w", err)
	}
	res := PruneResult{Chunks: n}
	s.logPrune("age", res, zap.Int("max_age_days", p.MaxAgeDays), zap.Int("max_importance", p.MaxImportance))
	return res, nil
}

// PruneTestArtifacts removes test and meta chatter plus low-value
// greetings, then drops parents that are test-related or left without chunks.
func (s *SQLiteStore) PruneTestArtifacts(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if res.Chunks, err = execCount(ctx, tx, `
			DELETE FROM chunks
			WHERE content LIKE '%test%'
			   OR topic IN ('meta', 'testing')
			   OR EXISTS (SELECT 1 FROM json_each(chunks.tags) WHERE value IN ('testing', 'meta'))
			   OR (importance <= 1 AND topic = 'greetings')
			   OR content IN ('Hello', 'Hi', 'Test', 'test')`); err != nil {
			return fmt.Errorf("delete test chunks: %w", err)
		}
		if res.Parents, err = execCount(ctx, tx, `
			DELETE FROM parents
			WHERE full_text LIKE '%test%'
			   OR summary LIKE '%test%'
			   OR NOT EXISTS (SELECT 1 FROM chunks WHERE chunks.parent_id = parents.id)`); err != nil {
			return fmt.Errorf("delete test parents: %w", err)
		}
		return nil
	})
	if err != nil {
		return PruneResult{}, err
	}
	s.logPrune("test artifacts", res)
	return res, nil
}

// PruneSpeaker deletes every parent authored by speaker, with its chunks.
func (s *SQLiteStore) PruneSpeaker(ctx context.Context, speaker model.Speaker) (PruneResult, error) {
	if !speaker.Valid() {
		return PruneResult{}, fmt.Errorf("%w: speaker %q", ErrInvalidInput, speaker)
	}
	var res PruneResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if res.Chunks, err = execCount(ctx, tx,
			`DELETE FROM chunks WHERE speaker = ?`, string(speaker)); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if res.Parents, err = execCount(ctx, tx,
			`DELETE FROM parents WHERE speaker = ?`, string(speaker)); err != nil {
			return fmt.Errorf("delete parents: %w", err)
		}
		return nil
	})
	if err != nil {
		return PruneResult{}, err
	}
	s.logPrune("speaker", res, zap.String("speaker", string(speaker)))
	return res, nil
}

// DeleteOrphanParents removes parents that no longer have any chunk.
func (s *SQLiteStore) DeleteOrphanParents(ctx context.Context) (int64, error) {
	n, err := execCount(ctx, s.db,
		`DELETE FROM parents WHERE NOT EXISTS (SELECT 1 FROM chunks WHERE chunks.parent_id = parents.id)`)
	if err != nil {
		return 0, fmt.Errorf("delete orphan parents: %w", err)
	}
	s.logPrune("orphans", PruneResult{Parents: n})
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execCount(ctx context.Context, db execer, q string, args ...any) (int64, error) {
	r, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) logPrune(kind string, res PruneResult, fields ...zap.Field) {
	s.logger.Info("pruned",
		append([]zap.Field{zap.String("kind", kind), zap.Int64("parents", res.Parents), zap.Int64("chunks", res.Chunks)}, fields...)...)
}
