// Package retrieval finds the stored memory chunks most relevant to an
// utterance: parent narrowing by summary vector, hybrid chunk scoring, and
// two deduplication passes.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/agent-recall/internal/config"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

// Source is the read side of the store.
type Source interface {
	NearestParents(ctx context.Context, vec []float32, limit int) ([]store.ParentMatch, error)
	ChunkCandidates(ctx context.Context, parentIDs []string, vec []float32, match string) ([]store.Candidate, error)
}

// Query is one retrieval request.
type Query struct {
	Text string
	// K overrides the configured result count when positive.
	K int
	// History is the reference set for the history dedup pass. It should
	// include the current utterance.
	History []model.Turn
}

// Engine runs retrieval against a Source.
type Engine struct {
	src      Source
	embedder embedding.Embedder
	scoring  config.Scoring
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time used for recency.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New validates scoring and returns an Engine.
func New(src Source, emb embedding.Embedder, scoring config.Scoring, opts ...Option) (*Engine, error) {
	if err := scoring.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		src:      src,
		embedder: emb,
		scoring:  scoring,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("retrieval")
	return e, nil
}

// Retrieve returns at most K chunks, best first. No relevant memory is an
// empty result, not an error.
func (e *Engine) Retrieve(ctx context.Context, q Query) ([]model.ScoredChunk, error) {
	if !e.scoring.Enabled || strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	k := q.K
	if k <= 0 {
		k = e.scoring.K
	}
	fan := k * e.scoring.Fanout

	vec, err := embedding.EmbedOne(ctx, e.embedder, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	parents, err := e.src.NearestParents(ctx, vec, fan)
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return nil, nil
	}
	ids := make([]string, len(parents))
	for i, p := range parents {
		ids[i] = p.ID
	}

	cands, err := e.src.ChunkCandidates(ctx, ids, vec, store.MatchQuery(q.Text))
	if err != nil {
		return nil, err
	}

	now := e.now()
	scored := make([]model.ScoredChunk, 0, len(cands))
	for _, c := range cands {
		sc := e.score(c, now)
		if !e.eligible(sc) {
			continue
		}
		scored = append(scored, sc)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].HybridScore != scored[j].HybridScore {
			return scored[i].HybridScore < scored[j].HybridScore
		}
		// Equal scores order by chunk id so repeated queries agree.
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > fan {
		scored = scored[:fan]
	}

	fresh := e.dropHistoryDuplicates(scored, q.History)
	unique := e.dropCrossDuplicates(fresh)
	if len(unique) > k {
		unique = unique[:k]
	}

	e.logger.Debug("retrieved",
		zap.Int("parents", len(parents)),
		zap.Int("candidates", len(cands)),
		zap.Int("eligible", len(scored)),
		zap.Int("after_history", len(fresh)),
		zap.Int("returned", len(unique)))
	return unique, nil
}

func (e *Engine) score(c store.Candidate, now time.Time) model.ScoredChunk {
	s := e.scoring
	age := now.Sub(c.Chunk.CreatedAt)
	if age < 0 {
		age = 0
	}
	sc := model.ScoredChunk{
		MemoryChunk:      c.Chunk,
		SemanticDistance: c.Distance,
		KeywordRank:      KeywordRank(c.BM25),
		TagAdjustment:    TagAdjustment(s.TagRules, c.Chunk.Tags),
		RecencyTerm:      s.RecencyWeight * math.Log(age.Seconds()+1),
		Age:              age,
	}
	sc.HybridScore = s.SemanticWeight*sc.SemanticDistance -
		s.KeywordWeight*sc.KeywordRank +
		sc.TagAdjustment +
		sc.RecencyTerm
	return sc
}

func (e *Engine) eligible(sc model.ScoredChunk) bool {
	return sc.SemanticDistance < e.scoring.SemanticThreshold || sc.KeywordRank > 0
}

func (e *Engine) dropHistoryDuplicates(in []model.ScoredChunk, history []model.Turn) []model.ScoredChunk {
	out := make([]model.ScoredChunk, 0, len(in))
next:
	for _, c := range in {
		for _, h := range history {
			if Ratio(c.Content, h.Content) >= e.scoring.HistoryDedupThreshold {
				continue next
			}
		}
		out = append(out, c)
	}
	return out
}

func (e *Engine) dropCrossDuplicates(in []model.ScoredChunk) []model.ScoredChunk {
	out := make([]model.ScoredChunk, 0, len(in))
next:
	for _, c := range in {
		for _, kept := range out {
			if Ratio(c.Content, kept.Content) >= e.scoring.CandidateDedupThreshold {
				continue next
			}
		}
		out = append(out, c)
	}
	return out
}

// KeywordRank maps a non-negative BM25 score into [0,1).
func KeywordRank(bm25 float64) float64 {
	if bm25 <= 0 {
		return 0
	}
	return bm25 / (1 + bm25)
}

// TagAdjustment returns the adjustment of the first rule sharing a tag
// with tags, or 0.
func TagAdjustment(rules []config.TagRule, tags []string) float64 {
	for _, r := range rules {
		for _, want := range r.Tags {
			for _, have := range tags {
				if strings.EqualFold(want, have) {
					return r.Adjustment
				}
			}
		}
	}
	return 0
}
