package retrieval

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/chunker"
	"github.com/rcliao/agent-recall/internal/config"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

type echoSummarizer struct{}

func (echoSummarizer) Summarize(_ context.Context, text string) (string, error) { return text, nil }

type fixture struct {
	store    *store.SQLiteStore
	ingester *store.Ingester
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	emb := embedding.NewHashEmbedder(384)
	eng, err := New(s, emb, config.Default().Scoring)
	require.NoError(t, err)
	return &fixture{
		store:    s,
		ingester: store.NewIngester(s, emb, echoSummarizer{}, chunker.DefaultOptions(), nil),
		engine:   eng,
	}
}

func (f *fixture) remember(t *testing.T, text string, cls model.Classification) {
	t.Helper()
	_, err := f.ingester.StoreUtterance(context.Background(), store.UtteranceParams{
		Text: text, Speaker: model.SpeakerUser, SessionID: "s", Classification: cls,
	})
	require.NoError(t, err)
}

func contents(chunks []model.ScoredChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func TestRetrieveRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.remember(t, "My cat's name is Winston and he is 3 years old.",
		model.Classification{Importance: 4, Topic: "personal data", Tags: []string{"personal data"}})

	q := "What is my cat's name?"
	got, err := f.engine.Retrieve(context.Background(), Query{
		Text:    q,
		History: []model.Turn{{Role: model.RoleUser, Content: q}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0].Content, "Winston")
	assert.Greater(t, got[0].KeywordRank, 0.0)
	assert.Equal(t, -0.3, got[0].TagAdjustment)
}

func TestRetrieveUnrelatedQueryReturnsNothing(t *testing.T) {
	f := newFixture(t)
	f.remember(t, "My cat's name is Winston and he is 3 years old.", model.Classification{Importance: 4})

	got, err := f.engine.Retrieve(context.Background(), Query{Text: "What is the price of propane?"})
	require.NoError(t, err)
	for _, c := range got {
		assert.NotContains(t, c.Content, "Winston")
	}
}

func TestRetrieveUnrelatedMemoryIsNotRecalled(t *testing.T) {
	f := newFixture(t)
	f.remember(t, "The propane tank is stored in the garage.",
		model.Classification{Importance: 3, Topic: "stating facts", Tags: []string{"stating facts"}})

	q := "Tell me about my cat"
	got, err := f.engine.Retrieve(context.Background(), Query{
		Text:    q,
		History: []model.Turn{{Role: model.RoleUser, Content: q}},
	})
	require.NoError(t, err)
	assert.Empty(t, got, "no shared words, so neither the distance nor the keyword gate opens")
}

func TestRetrieveEmptyStore(t *testing.T) {
	f := newFixture(t)
	got, err := f.engine.Retrieve(context.Background(), Query{Text: "anything at all"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// The history pass uses a 0.8 ratio and the cross-candidate pass 0.75;
// both thresholds are configurable and the defaults differ.
func TestRetrieveDeduplicatesNearDuplicates(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{
		"My cat is named Winston",
		"My cat's name is Winston",
		"Winston is my cat's name",
	} {
		f.remember(t, text, model.Classification{Importance: 3})
	}

	q := "What is my cat's name?"
	got, err := f.engine.Retrieve(context.Background(), Query{
		Text:    q,
		History: []model.Turn{{Role: model.RoleUser, Content: q}},
	})
	require.NoError(t, err)

	winston := 0
	for _, c := range got {
		if strings.Contains(c.Content, "Winston") {
			winston++
		}
	}
	assert.LessOrEqual(t, winston, 1, "got %q", contents(got))
}

func TestRetrieveDisabled(t *testing.T) {
	f := newFixture(t)
	f.remember(t, "My cat's name is Winston.", model.Classification{Importance: 4})

	sc := config.Default().Scoring
	sc.Enabled = false
	eng, err := New(f.store, embedding.NewHashEmbedder(384), sc)
	require.NoError(t, err)
	got, err := eng.Retrieve(context.Background(), Query{Text: "cat name"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

type fakeSource struct {
	parents []store.ParentMatch
	cands   []store.Candidate
	err     error
	limit   int
	match   string
}

func (f *fakeSource) NearestParents(_ context.Context, _ []float32, limit int) ([]store.ParentMatch, error) {
	f.limit = limit
	return f.parents, f.err
}

func (f *fakeSource) ChunkCandidates(_ context.Context, _ []string, _ []float32, match string) ([]store.Candidate, error) {
	f.match = match
	return f.cands, nil
}

func cand(id, content string, dist, bm25 float64, created time.Time, tags ...string) store.Candidate {
	return store.Candidate{
		Chunk:    model.MemoryChunk{ID: id, Content: content, CreatedAt: created, Tags: tags},
		Distance: dist,
		BM25:     bm25,
	}
}

func TestRetrieveScoringAndOrdering(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		parents: []store.ParentMatch{{ID: "p1"}},
		cands: []store.Candidate{
			cand("far", "completely unrelated words here", 1.3, 0, now),
			cand("kw", "keyword only match about lasagna", 1.2, 1, now),
			cand("near", "semantic neighbour about pasta", 0.5, 0, now),
			cand("old", "older semantic neighbour text", 0.5, 0, now.Add(-time.Hour)),
			cand("fact", "a stated fact about noodles", 0.5, 0, now, "stating facts", "testing memory"),
		},
	}
	eng, err := New(src, embedding.NewHashEmbedder(8), config.Default().Scoring, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	got, err := eng.Retrieve(context.Background(), Query{Text: "pasta lasagna", K: 5})
	require.NoError(t, err)
	assert.Equal(t, 10, src.limit, "parent fan-out is 2k")
	assert.Equal(t, `"pasta" AND "lasagna"`, src.match)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	// fact: 0.35-0.4 = -0.05; kw: 0.84-0.75 = 0.09; near: 0.35;
	// old: 0.35+0.75*ln(3601) ≈ 6.5; far is ineligible.
	assert.Equal(t, []string{"fact", "kw", "near", "old"}, ids)

	assert.Equal(t, -0.4, got[0].TagAdjustment, "first matching rule wins")
	assert.InDelta(t, 0.5, got[1].KeywordRank, 1e-9)
	assert.InDelta(t, 0.75*math.Log(3601), got[3].RecencyTerm, 1e-9)
	assert.Equal(t, time.Hour, got[3].Age)
}

func TestRetrieveTruncatesToK(t *testing.T) {
	now := time.Now()
	src := &fakeSource{parents: []store.ParentMatch{{ID: "p"}}}
	words := []string{"apples", "bicycle", "candles", "dolphin", "emerald", "furnace", "gazelle"}
	for i, w := range words {
		src.cands = append(src.cands, cand(w, strings.Repeat(w+" ", 3), 0.1*float64(i+1), 0, now))
	}
	eng, err := New(src, embedding.NewHashEmbedder(8), config.Default().Scoring, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	got, err := eng.Retrieve(context.Background(), Query{Text: "fruit", K: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "apples", got[0].ID)
	assert.Equal(t, "bicycle", got[1].ID)
}

func TestRetrieveEqualScoresOrderByID(t *testing.T) {
	now := time.Now()
	src := &fakeSource{
		parents: []store.ParentMatch{{ID: "p"}},
		cands: []store.Candidate{
			cand("zulu", "walrus harbour morning", 0.4, 0, now),
			cand("alpha", "violin concert tickets", 0.4, 0, now),
			cand("mike", "granite kitchen counter", 0.4, 0, now),
		},
	}
	eng, err := New(src, embedding.NewHashEmbedder(8), config.Default().Scoring, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := eng.Retrieve(context.Background(), Query{Text: "anything", K: 3})
		require.NoError(t, err)
		ids := make([]string, len(got))
		for j, c := range got {
			ids[j] = c.ID
		}
		assert.Equal(t, []string{"alpha", "mike", "zulu"}, ids)
	}
}

func TestRetrievePropagatesStoreError(t *testing.T) {
	src := &fakeSource{err: errors.New("db locked")}
	eng, err := New(src, embedding.NewHashEmbedder(8), config.Default().Scoring)
	require.NoError(t, err)
	_, err = eng.Retrieve(context.Background(), Query{Text: "hello world"})
	require.Error(t, err)
}

func TestNewRejectsInvalidScoring(t *testing.T) {
	sc := config.Default().Scoring
	sc.K = 0
	_, err := New(&fakeSource{}, embedding.NewHashEmbedder(8), sc)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestTagAdjustment(t *testing.T) {
	rules := config.DefaultTagRules()
	tests := []struct {
		tags []string
		want float64
	}{
		{nil, 0},
		{[]string{"making jokes"}, 0},
		{[]string{"factual statement"}, -0.4},
		{[]string{"Personal Information"}, -0.3},
		{[]string{"memory test", "asking questions"}, 0.3},
		{[]string{"testing memory"}, 0.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TagAdjustment(rules, tt.tags), "tags %v", tt.tags)
	}
}

func TestKeywordRank(t *testing.T) {
	assert.Equal(t, 0.0, KeywordRank(0))
	assert.Equal(t, 0.0, KeywordRank(-2))
	assert.InDelta(t, 0.5, KeywordRank(1), 1e-12)
	assert.Less(t, KeywordRank(1e9), 1.0)
}

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "abc", 1},
		{"abc", "xyz", 0},
		{"My cat is named Winston", "My cat's name is Winston", 0.851063829787234},
		{"Winston is my cat's name", "What is my cat's name?", 0.8260869565217391},
		{"My cat is named Winston", "Winston is my cat's name", 0.2978723404255319},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Ratio(tt.a, tt.b), 1e-9, "%q vs %q", tt.a, tt.b)
	}
}
