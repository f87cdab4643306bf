package cli

import (
	"context"

	"github.com/rcliao/agent-recall/internal/admission"
	"github.com/rcliao/agent-recall/internal/chunker"
	"github.com/rcliao/agent-recall/internal/classify"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/engine"
	"github.com/rcliao/agent-recall/internal/metrics"
	"github.com/rcliao/agent-recall/internal/ollama"
	"github.com/rcliao/agent-recall/internal/prompt"
	"github.com/rcliao/agent-recall/internal/retrieval"
	"github.com/rcliao/agent-recall/internal/session"
	"github.com/rcliao/agent-recall/internal/store"
	"github.com/rcliao/agent-recall/internal/summarize"
)

// app holds the components shared by commands that talk to the backends.
type app struct {
	store     *store.SQLiteStore
	embedder  embedding.Embedder
	generator *ollama.Client
	admitter  *admission.Filter
	ingester  *store.Ingester
	retriever *retrieval.Engine
	sessions  *session.Manager
	metrics   *metrics.Metrics
	engine    *engine.Engine
}

// newApp wires every component from cfg. Callers must Close it.
func newApp() (*app, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	a := &app{store: s, metrics: metrics.New()}

	a.embedder, err = embedding.NewFromConfig(cfg.Embedding, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := s.CheckDims(context.Background(), a.embedder.Dims()); err != nil {
		a.Close()
		return nil, err
	}
	a.retriever, err = retrieval.New(s, a.embedder, cfg.Scoring, retrieval.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.generator = ollama.New(cfg.Ollama, ollama.WithLogger(logger))

	var summarizer store.Summarizer = summarize.FirstSentence{}
	if cfg.Summarizer.Model != "" {
		summarizer = summarize.NewLLM(a.generator, cfg.Summarizer.Model, cfg.Summarizer.MaxTokens, cfg.Summarizer.Timeout)
	}
	a.ingester = store.NewIngester(s, a.embedder, summarizer, chunker.Options{
		MaxChars:         cfg.Chunking.MaxChars,
		OverlapSentences: cfg.Chunking.OverlapSentences,
	}, logger)

	cls := classify.NewHTTPClassifier(cfg.Classifier.URL, cfg.Classifier.TagThreshold, cfg.Classifier.Timeout)
	a.admitter = admission.New(cls, cfg.Classifier.AdmitThreshold, cfg.Classifier.Timeout, logger)

	a.sessions = session.NewManager(session.Config{
		TailMode:      cfg.Session.TailMode,
		MaxTokens:     cfg.Session.MaxTokens,
		CharsPerToken: cfg.Session.CharsPerToken,
		StatsSize:     cfg.Session.StatsSize,
		IdleTimeout:   cfg.Session.IdleTimeout,
	}, logger)

	a.engine, err = engine.New(engine.Deps{
		Sessions:  a.sessions,
		Admitter:  a.admitter,
		Writer:    a.ingester,
		Retriever: a.retriever,
		Generator: a.generator,
		Prompts:   prompt.New(cfg.Prompt),
	}, engine.Settings{
		Temperature:       cfg.Ollama.Temperature,
		VisualTemperature: cfg.Ollama.VisualTemperature,
		TailRecap:         cfg.Session.TailRecap,
	}, engine.WithMetrics(a.metrics), engine.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close stops sessions and releases the cache and database.
func (a *app) Close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if c, ok := a.embedder.(interface{ Close() }); ok {
		c.Close()
	}
	_ = a.store.Close()
}
