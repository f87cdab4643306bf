// Package engine handles one conversational turn end to end: admission,
// storage and retrieval in parallel, prompt rendering, streaming generation
// and the session state update.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agent-recall/internal/metrics"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/ollama"
	"github.com/rcliao/agent-recall/internal/prompt"
	"github.com/rcliao/agent-recall/internal/retrieval"
	"github.com/rcliao/agent-recall/internal/session"
	"github.com/rcliao/agent-recall/internal/store"
)

// FallbackReply is spoken when generation fails.
const FallbackReply = "I appear to be having trouble speaking. How embarrassing."

// ErrEmptyUtterance is returned for blank input.
var ErrEmptyUtterance = errors.New("empty utterance")

// Generator streams a completion from the generation backend.
type Generator interface {
	Generate(ctx context.Context, r ollama.Request, onToken func(string)) (*ollama.Response, error)
}

// Admitter decides whether an utterance is stored.
type Admitter interface {
	ShouldAdmit(ctx context.Context, text string) (bool, model.Classification)
}

// Writer stores an utterance.
type Writer interface {
	StoreUtterance(ctx context.Context, p store.UtteranceParams) (string, error)
}

// Retriever finds memories for a query.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]model.ScoredChunk, error)
}

// Deps are the collaborators of an Engine. Retriever may be nil to run
// on session continuity alone.
type Deps struct {
	Sessions  *session.Manager
	Admitter  Admitter
	Writer    Writer
	Retriever Retriever
	Generator Generator
	Prompts   *prompt.Builder
}

// Settings are per-turn generation knobs.
type Settings struct {
	Temperature       float64
	VisualTemperature float64
	TailRecap         bool
}

// Input is one inbound utterance.
type Input struct {
	SessionID string
	Text      string
	// Observation describes the current camera frame, if any.
	Observation string
	// OnToken receives streamed reply fragments.
	OnToken func(string)
}

// Reply is the outcome of a turn.
type Reply struct {
	SessionID      string               `json:"session_id"`
	Text           string               `json:"text"`
	Mode           string               `json:"mode"`
	Fallback       bool                 `json:"fallback,omitempty"`
	Admitted       bool                 `json:"admitted"`
	Classification model.Classification `json:"classification"`
	ParentID       string               `json:"parent_id,omitempty"`
	Memories       []model.ScoredChunk  `json:"memories,omitempty"`
	Stats          ollama.Stats         `json:"stats"`
	Duration       time.Duration        `json:"duration"`
}

// Engine is the inbound entry point.
type Engine struct {
	deps     Deps
	settings Settings
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l.Named("engine") }
}

// WithClock overrides the time source used in prompts and stats.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine.
func New(deps Deps, settings Settings, opts ...Option) (*Engine, error) {
	if deps.Sessions == nil || deps.Admitter == nil || deps.Writer == nil || deps.Generator == nil || deps.Prompts == nil {
		return nil, fmt.Errorf("engine: missing dependency")
	}
	e := &Engine{
		deps:     deps,
		settings: settings,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	return e, nil
}

// HandleUtterance runs one user turn for sessionID.
func (e *Engine) HandleUtterance(ctx context.Context, sessionID, text string) (*Reply, error) {
	return e.Handle(ctx, Input{SessionID: sessionID, Text: text})
}

// Handle runs one turn on the session's actor. Turns of one session are
// processed in arrival order; other sessions are not blocked.
func (e *Engine) Handle(ctx context.Context, in Input) (*Reply, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return nil, ErrEmptyUtterance
	}
	var reply *Reply
	err := e.deps.Sessions.Do(ctx, in.SessionID, func(ctx context.Context, st *session.State) error {
		r, err := e.turn(ctx, st, in)
		reply = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (e *Engine) turn(ctx context.Context, st *session.State, in Input) (*Reply, error) {
	start := e.now()
	log := e.logger.With(zap.String("session", st.ID))

	mode := st.Mode()
	prior := st.History.Turns()
	var recapUser, recapAssistant string
	if mode == session.ModeTail && e.settings.TailRecap {
		recapUser, recapAssistant = st.Recap()
	}
	st.History.Append(model.Turn{Role: model.RoleUser, Content: in.Text})
	history := st.History.Turns()

	reply := &Reply{SessionID: st.ID, Mode: mode.String()}
	reply.Admitted, reply.Classification = e.deps.Admitter.ShouldAdmit(ctx, in.Text)
	e.metrics.RecordAdmission(reply.Admitted)

	var g errgroup.Group
	if reply.Admitted {
		g.Go(func() error {
			id, err := e.deps.Writer.StoreUtterance(ctx, store.UtteranceParams{
				Text:           in.Text,
				Speaker:        model.SpeakerUser,
				SessionID:      st.ID,
				Classification: reply.Classification,
			})
			e.metrics.RecordStore(err)
			if err != nil {
				log.Error("store utterance failed", zap.Error(err))
				return nil
			}
			reply.ParentID = id
			return nil
		})
	}
	if e.deps.Retriever != nil {
		g.Go(func() error {
			chunks, err := e.deps.Retriever.Retrieve(ctx, retrieval.Query{Text: in.Text, History: history})
			e.metrics.RecordRetrieval(len(chunks), err)
			if err != nil {
				log.Warn("retrieval failed", zap.Error(err))
				return nil
			}
			reply.Memories = chunks
			return nil
		})
	}
	_ = g.Wait()

	visual := prompt.IsVisualQuestion(in.Text)
	temp := e.settings.Temperature
	if visual {
		temp = e.settings.VisualTemperature
	}
	if budget := e.deps.Prompts.MemoryBudget(in.Text); len(reply.Memories) > budget {
		reply.Memories = reply.Memories[:budget]
	}
	text := e.deps.Prompts.Build(prompt.Input{
		Mode:           mode,
		History:        prior,
		Utterance:      in.Text,
		Chunks:         reply.Memories,
		RecapUser:      recapUser,
		RecapAssistant: recapAssistant,
		Observation:    in.Observation,
		Now:            e.now(),
	})

	resp, err := e.deps.Generator.Generate(ctx, ollama.Request{
		Prompt:      text,
		Context:     st.Token(),
		Raw:         true,
		Temperature: &temp,
	}, in.OnToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.metrics.RecordTurn(reply.Mode, "cancelled", e.now().Sub(start))
			return nil, ctxErr
		}
		log.Error("generation failed", zap.Error(err), zap.String("mode", reply.Mode))
		reply.Text = FallbackReply
		reply.Fallback = true
		reply.Duration = e.now().Sub(start)
		e.metrics.RecordTurn(reply.Mode, "fallback", reply.Duration)
		return reply, nil
	}

	anomaly := st.Commit(resp.Context)
	reply.Stats = resp.Stats
	reply.Text = resp.Text
	if reply.Text == "" {
		reply.Text = FallbackReply
		reply.Fallback = true
	}
	st.History.Append(model.Turn{Role: model.RoleAssistant, Content: reply.Text})

	ts := session.TurnStats{
		SessionID:          st.ID,
		At:                 start,
		Mode:               reply.Mode,
		PromptEvalCount:    resp.Stats.PromptEvalCount,
		EvalCount:          resp.Stats.EvalCount,
		PromptEvalDuration: resp.Stats.PromptEvalDuration,
		EvalDuration:       resp.Stats.EvalDuration,
		TotalDuration:      resp.Stats.TotalDuration,
		TokenLen:           st.TokenLen(),
	}
	if anomaly {
		ts.Anomaly = "empty continuation token"
		log.Warn("generation returned no continuation token", zap.Int("held", st.TokenLen()))
	}
	e.deps.Sessions.Stats().Add(ts)
	e.metrics.RecordGeneration(reply.Mode, resp.Stats.PromptEvalCount, resp.Stats.EvalCount, st.TokenLen(), anomaly)

	reply.Duration = e.now().Sub(start)
	e.metrics.RecordTurn(reply.Mode, "ok", reply.Duration)
	log.Info("turn complete",
		zap.String("mode", reply.Mode),
		zap.Bool("admitted", reply.Admitted),
		zap.Int("memories", len(reply.Memories)),
		zap.Int("prompt_eval_count", resp.Stats.PromptEvalCount),
		zap.Duration("duration", reply.Duration))
	return reply, nil
}

// Stats returns the recent generation log.
func (e *Engine) Stats() []session.TurnStats {
	return e.deps.Sessions.Stats().Snapshot()
}
