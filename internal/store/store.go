// Package store provides the two-tier memory store: full utterances
// (parents) and the sentence-window chunks derived from them.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/agent-recall/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for rejected writes.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDimensionMismatch is returned when vectors disagree with the
	// embedding width of the store or the embedder.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// SummarySentinel replaces the summary when summarization fails or is empty.
const SummarySentinel = "No summary available."

// Summarizer produces a short summary of an utterance.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// UtteranceParams holds parameters for storing one utterance.
type UtteranceParams struct {
	Text           string
	Speaker        model.Speaker
	SessionID      string
	Classification model.Classification
}

// ParentMatch is a parent ranked by summary-embedding distance.
type ParentMatch struct {
	ID       string
	Distance float64
}

// Candidate is a chunk with its raw retrieval signals.
type Candidate struct {
	Chunk    model.MemoryChunk
	Distance float64
	// BM25 is the negated FTS5 bm25 score: 0 without a lexical match,
	// otherwise positive and larger for better matches.
	BM25 float64
}

// AgeParams selects old low-value chunks.
type AgeParams struct {
	MaxAgeDays    int
	MaxImportance int
	Topics        []string // empty means any topic
}

// PruneResult counts deleted rows.
type PruneResult struct {
	Parents int64 `json:"parents"`
	Chunks  int64 `json:"chunks"`
}

// Store is the read/write surface used by the engine and CLI.
type Store interface {
	// InsertUtterance writes a parent and its chunks atomically.
	InsertUtterance(ctx context.Context, parent *model.ParentDocument, chunks []model.MemoryChunk) error

	// NearestParents ranks parents by summary-embedding distance to vec.
	NearestParents(ctx context.Context, vec []float32, limit int) ([]ParentMatch, error)

	// ChunkCandidates scores every chunk of the given parents against vec
	// and the FTS match expression (empty disables keyword matching).
	ChunkCandidates(ctx context.Context, parentIDs []string, vec []float32, match string) ([]Candidate, error)

	// RecentChunks lists the newest chunks of a session.
	RecentChunks(ctx context.Context, sessionID string, limit int) ([]model.MemoryChunk, error)

	// GetParent returns one parent with its chunks.
	GetParent(ctx context.Context, id string) (*model.ParentDocument, []model.MemoryChunk, error)

	PruneBySessionPrefix(ctx context.Context, prefix string) (PruneResult, error)
	PruneByAge(ctx context.Context, p AgeParams) (PruneResult, error)
	PruneTestArtifacts(ctx context.Context) (PruneResult, error)
	PruneSpeaker(ctx context.Context, speaker model.Speaker) (PruneResult, error)
	DeleteOrphanParents(ctx context.Context) (int64, error)

	Counts(ctx context.Context) (parents, chunks int, err error)

	// Close closes the store.
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
