package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/agent-recall/internal/chunker"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), opts...)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type echoSummarizer struct{ err error }

func (e echoSummarizer) Summarize(_ context.Context, text string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return text, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([]embedding.Vector, error) {
	return nil, errors.New("embedder down")
}
func (failingEmbedder) Dims() int { return 8 }

func newTestIngester(s Store) *Ingester {
	return NewIngester(s, embedding.NewHashEmbedder(384), echoSummarizer{}, chunker.DefaultOptions(), nil)
}

func storeText(t *testing.T, in *Ingester, session, text string, cls model.Classification) string {
	t.Helper()
	id, err := in.StoreUtterance(context.Background(), UtteranceParams{
		Text: text, Speaker: model.SpeakerUser, SessionID: session, Classification: cls,
	})
	if err != nil {
		t.Fatalf("store %q: %v", text, err)
	}
	return id
}

func TestStoreUtterance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := NewIngester(s, embedding.NewHashEmbedder(384), echoSummarizer{},
		chunker.Options{MaxChars: 40, OverlapSentences: 1}, nil)

	text := "My cat's name is Winston. He is three years old. He likes tuna a lot."
	id, err := in.StoreUtterance(ctx, UtteranceParams{
		Text:      text,
		Speaker:   model.SpeakerUser,
		SessionID: "s1",
		Classification: model.Classification{
			Importance: 4, Topic: "personal data", Tags: []string{"personal data", "stating facts"},
		},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty parent id")
	}

	p, chunks, err := s.GetParent(ctx, id)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if p.FullText != text || p.Summary != text {
		t.Errorf("unexpected parent text/summary: %+v", p)
	}
	if len(p.SummaryEmbedding) != 384 {
		t.Errorf("expected 384-dim summary embedding, got %d", len(p.SummaryEmbedding))
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.ParentID != id {
			t.Errorf("chunk %s has parent %s, want %s", c.ID, c.ParentID, id)
		}
		if c.SessionID != "s1" || c.Speaker != model.SpeakerUser {
			t.Errorf("chunk did not inherit session/speaker: %+v", c)
		}
		if c.Importance != 4 || c.Topic != "personal data" || len(c.Tags) != 2 {
			t.Errorf("chunk did not inherit classification: %+v", c)
		}
		if !c.CreatedAt.Equal(p.CreatedAt) {
			t.Errorf("chunk created_at %v differs from parent %v", c.CreatedAt, p.CreatedAt)
		}
	}
}

func TestStoreUtteranceClampsImportance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := newTestIngester(s)

	tests := []struct {
		in, want int
	}{
		{-3, 0}, {0, 0}, {3, 3}, {5, 5}, {9, 5},
	}
	for _, tt := range tests {
		id := storeText(t, in, "clamp", "I have a blue bicycle.", model.Classification{Importance: tt.in, Topic: "x"})
		_, chunks, err := s.GetParent(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		for _, c := range chunks {
			if c.Importance != tt.want {
				t.Errorf("importance %d stored as %d, want %d", tt.in, c.Importance, tt.want)
			}
		}
	}
}

func TestStoreUtteranceSummaryFallback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := NewIngester(s, embedding.NewHashEmbedder(64), echoSummarizer{err: errors.New("timeout")}, chunker.DefaultOptions(), nil)

	id := storeText(t, in, "s", "The garage code is 4512.", model.Classification{Importance: 3})
	p, _, err := s.GetParent(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Summary != SummarySentinel {
		t.Errorf("expected sentinel summary, got %q", p.Summary)
	}

	in = NewIngester(s, embedding.NewHashEmbedder(64), nil, chunker.DefaultOptions(), nil)
	id = storeText(t, in, "s", "The wifi password is hunter2.", model.Classification{Importance: 3})
	p, _, _ = s.GetParent(ctx, id)
	if p.Summary != SummarySentinel {
		t.Errorf("expected sentinel summary without summarizer, got %q", p.Summary)
	}
}

func TestStoreUtteranceEmbedFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := NewIngester(s, failingEmbedder{}, echoSummarizer{}, chunker.DefaultOptions(), nil)

	_, err := in.StoreUtterance(ctx, UtteranceParams{Text: "hello there friend.", Speaker: model.SpeakerUser, SessionID: "s"})
	if err == nil {
		t.Fatal("expected error")
	}
	parents, chunks, _ := s.Counts(ctx)
	if parents != 0 || chunks != 0 {
		t.Errorf("expected empty store, got %d parents %d chunks", parents, chunks)
	}
}

func TestStoreUtteranceRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	in := newTestIngester(newTestStore(t))

	for _, p := range []UtteranceParams{
		{Text: "   ", Speaker: model.SpeakerUser},
		{Text: "hi", Speaker: "robot"},
	} {
		if _, err := in.StoreUtterance(ctx, p); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("StoreUtterance(%+v) err = %v, want ErrInvalidInput", p, err)
		}
	}
}

func TestForeignKeyEnforced(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (id, parent_id, content, speaker, embedding, session_id, created_at)
		 VALUES ('c1', 'missing', 'orphan', 'user', x'', 's', '2024-01-01T00:00:00.000000Z')`)
	if err == nil {
		t.Fatal("expected foreign key violation for chunk without parent")
	}
}

func TestParentDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := newTestIngester(s)

	id := storeText(t, in, "s", "Winston is a tabby cat.", model.Classification{Importance: 3})
	if _, err := s.db.ExecContext(ctx, `DELETE FROM parents WHERE id = ?`, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, chunks, _ := s.Counts(ctx)
	if chunks != 0 {
		t.Errorf("expected cascade to remove chunks, %d left", chunks)
	}
	var fts int
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks_fts WHERE chunks_fts MATCH 'tabby'`).Scan(&fts)
	if fts != 0 {
		t.Errorf("expected FTS index to drop deleted chunk, found %d", fts)
	}
	if _, _, err := s.GetParent(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentChunks(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))
	in := newTestIngester(s)

	for i, text := range []string{"First thing.", "Second thing.", "Third thing."} {
		clock.t = clock.t.Add(time.Duration(i+1) * time.Minute)
		storeText(t, in, "recent", text, model.Classification{Importance: 2})
	}
	storeText(t, in, "other", "Elsewhere.", model.Classification{Importance: 2})

	got, err := s.RecentChunks(context.Background(), "recent", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	if got[0].Content != "Third thing." || got[1].Content != "Second thing." {
		t.Errorf("unexpected order: %q, %q", got[0].Content, got[1].Content)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := newTestIngester(s)

	storeText(t, in, "a", "Alpha fact.", model.Classification{Importance: 2, Topic: "stating facts"})
	storeText(t, in, "a", "Beta fact.", model.Classification{Importance: 4, Topic: "stating facts"})
	storeText(t, in, "b", "Gamma plan.", model.Classification{Importance: 3, Topic: "future planning"})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Parents != 3 || st.Chunks != 3 || st.Orphans != 0 {
		t.Errorf("unexpected counts: %+v", st)
	}
	if len(st.Sessions) != 2 || st.Sessions[0].SessionID != "a" {
		t.Errorf("unexpected sessions: %+v", st.Sessions)
	}
	if len(st.Topics) != 2 || st.Topics[0].Topic != "stating facts" || st.Topics[0].AvgImportance != 3 {
		t.Errorf("unexpected topics: %+v", st.Topics)
	}
	if st.DBPath != s.Path() {
		t.Errorf("expected db path %q, got %q", s.Path(), st.DBPath)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	in := newTestIngester(src)
	storeText(t, in, "s1", "My cat's name is Winston. He is three.", model.Classification{Importance: 4, Tags: []string{"personal data"}})
	storeText(t, in, "s2", "Buy propane on Friday.", model.Classification{Importance: 3})

	all, err := src.ExportAll(ctx, "")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(all))
	}
	only, _ := src.ExportAll(ctx, "s2")
	if len(only) != 1 || !strings.Contains(only[0].Parent.FullText, "propane") {
		t.Errorf("session filter failed: %+v", only)
	}

	dst := newTestStore(t)
	n, err := dst.Import(ctx, all)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 imported, got %d", n)
	}
	again, _ := dst.Import(ctx, all)
	if again != 0 {
		t.Errorf("expected re-import to skip existing parents, got %d", again)
	}

	p, chunks, err := dst.GetParent(ctx, all[0].Parent.ID)
	if err != nil {
		t.Fatalf("get imported: %v", err)
	}
	if !p.CreatedAt.Equal(all[0].Parent.CreatedAt) || len(chunks) != len(all[0].Chunks) {
		t.Errorf("imported parent differs: %+v", p)
	}
	if len(p.SummaryEmbedding) != 384 {
		t.Errorf("expected embedding to survive import, got %d dims", len(p.SummaryEmbedding))
	}
}
