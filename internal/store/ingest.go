package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/agent-recall/internal/chunker"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
)

// Ingester turns an utterance into a parent plus embedded chunks.
type Ingester struct {
	store      Store
	embedder   embedding.Embedder
	summarizer Summarizer
	chunking   chunker.Options
	logger     *zap.Logger
}

// NewIngester wires the write path. A nil summarizer always yields the sentinel.
func NewIngester(s Store, e embedding.Embedder, sum Summarizer, opts chunker.Options, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{store: s, embedder: e, summarizer: sum, chunking: opts, logger: logger.Named("ingest")}
}

// StoreUtterance summarizes, chunks and embeds the text, then writes the
// parent and every chunk in one transaction. Summarizer failure degrades
// to SummarySentinel; embedding or storage failure writes nothing.
func (in *Ingester) StoreUtterance(ctx context.Context, p UtteranceParams) (string, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrInvalidInput)
	}
	if !p.Speaker.Valid() {
		return "", fmt.Errorf("%w: speaker %q", ErrInvalidInput, p.Speaker)
	}

	summary := in.summarize(ctx, text)
	// The sentinel is shared by every unsummarized parent, so the parent
	// vector falls back to the full text.
	summaryInput := summary
	if summary == SummarySentinel {
		summaryInput = text
	}

	windows := chunker.Chunk(text, in.chunking)
	inputs := make([]string, 0, len(windows)+1)
	inputs = append(inputs, summaryInput)
	for _, w := range windows {
		inputs = append(inputs, w.Text)
	}

	vecs, err := in.embedder.Embed(ctx, inputs)
	if err != nil {
		return "", fmt.Errorf("embed utterance: %w", err)
	}
	if len(vecs) != len(inputs) {
		return "", fmt.Errorf("embed utterance: got %d vectors for %d inputs", len(vecs), len(inputs))
	}
	if d := in.embedder.Dims(); d > 0 {
		for _, v := range vecs {
			if len(v) != d {
				return "", fmt.Errorf("%w: embedder returned %d values, want %d", ErrDimensionMismatch, len(v), d)
			}
		}
	}

	cls := p.Classification.Clamped()
	parent := &model.ParentDocument{
		SessionID:        p.SessionID,
		Speaker:          p.Speaker,
		FullText:         text,
		Summary:          summary,
		SummaryEmbedding: vecs[0],
	}
	chunks := make([]model.MemoryChunk, len(windows))
	for i, w := range windows {
		chunks[i] = model.MemoryChunk{
			Content:    w.Text,
			Embedding:  vecs[i+1],
			Topic:      cls.Topic,
			Importance: cls.Importance,
			Tags:       cls.Tags,
		}
	}

	if err := in.store.InsertUtterance(ctx, parent, chunks); err != nil {
		return "", err
	}
	return parent.ID, nil
}

func (in *Ingester) summarize(ctx context.Context, text string) string {
	if in.summarizer == nil {
		return SummarySentinel
	}
	summary, err := in.summarizer.Summarize(ctx, text)
	if err != nil {
		in.logger.Warn("summarize failed, using sentinel", zap.Error(err))
		return SummarySentinel
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return SummarySentinel
	}
	return summary
}
