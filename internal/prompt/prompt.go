// Package prompt renders raw Llama-3 prompts for the generation backend.
//
// A full prompt carries the persona, the prior conversation and a per-turn
// system block; a tail prompt carries only what changed since the
// continuation token was produced. Rendering is pure: identical inputs give
// identical output.
package prompt

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rcliao/agent-recall/internal/config"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/session"
)

// TimeLayout formats the current time line.
const TimeLayout = "2006-01-02 15:04:05"

const assistantHeader = "<|start_header_id|>assistant<|end_header_id|>"

const visualInstruction = "Rely only on the camera observation below for current visuals; do not use past statements or memories to infer current visuals. " +
	"If the observation lacks detail, say you can't tell from the camera. If any memory contradicts the observation, prefer the observation. " +
	"Do not repeat the observation verbatim; answer concisely."

// Input is everything one prompt depends on.
type Input struct {
	Mode session.Mode
	// History holds prior turns only; the current utterance goes in Utterance.
	History   []model.Turn
	Utterance string
	Chunks    []model.ScoredChunk
	// RecapUser and RecapAssistant are the previous exchange, tail mode only.
	RecapUser      string
	RecapAssistant string
	// Observation is a fresh camera description, used on visual turns.
	Observation string
	Now         time.Time
}

// Builder renders prompts with a fixed persona.
type Builder struct {
	persona           string
	reinforcement     string
	maxMemories       int
	visualMaxMemories int
}

// New returns a Builder from cfg.
func New(cfg config.PromptConfig) *Builder {
	b := &Builder{
		persona:           cfg.Persona,
		reinforcement:     cfg.Reinforcement,
		maxMemories:       cfg.MaxMemories,
		visualMaxMemories: cfg.VisualMaxMemories,
	}
	if b.persona == "" {
		b.persona = config.DefaultPersona
	}
	if b.reinforcement == "" {
		b.reinforcement = config.DefaultReinforcement
	}
	return b
}

// Build renders in.
func (b *Builder) Build(in Input) string {
	visual := IsVisualQuestion(in.Utterance)
	if in.Mode == session.ModeTail {
		return b.tail(in, visual)
	}
	return b.full(in, visual)
}

func (b *Builder) full(in Input, visual bool) string {
	parts := []string{block(model.RoleSystem, b.persona)}
	for _, t := range in.History {
		if t.Role == model.RoleUser || t.Role == model.RoleAssistant {
			parts = append(parts, block(t.Role, t.Content))
		}
	}

	var sys strings.Builder
	sys.WriteString("Current time: " + in.Now.Format(TimeLayout) + ".")
	if bullets := b.bullets(in.Chunks, in.Now, visual); bullets != "" {
		sys.WriteString(" Use the following memories only if relevant, and do not quote them verbatim.")
		sys.WriteString("\nRelevant memories for this turn:\n")
		sys.WriteString(bullets)
	}
	writeVision(&sys, in.Observation, visual)

	parts = append(parts,
		block(model.RoleSystem, sys.String()),
		block(model.RoleUser, in.Utterance),
		assistantHeader,
	)
	return strings.Join(parts, "\n\n")
}

func (b *Builder) tail(in Input, visual bool) string {
	var sys strings.Builder
	sys.WriteString(b.reinforcement)
	sys.WriteString("\nCurrent time: " + in.Now.Format(TimeLayout) + ".")
	if in.RecapUser != "" || in.RecapAssistant != "" {
		sys.WriteString("\nSession recap:")
		if in.RecapUser != "" {
			sys.WriteString("\nUser: " + in.RecapUser)
		}
		if in.RecapAssistant != "" {
			sys.WriteString("\nAssistant: " + in.RecapAssistant)
		}
	}
	if bullets := b.bullets(in.Chunks, in.Now, visual); bullets != "" {
		sys.WriteString("\nMemories:\n")
		sys.WriteString(bullets)
	}
	writeVision(&sys, in.Observation, visual)

	return strings.Join([]string{
		block(model.RoleSystem, sys.String()),
		block(model.RoleUser, in.Utterance),
		assistantHeader,
	}, "\n\n")
}

// MemoryBudget is how many memories a turn may show.
func (b *Builder) MemoryBudget(utterance string) int {
	if IsVisualQuestion(utterance) {
		return b.visualMaxMemories
	}
	return b.maxMemories
}

func (b *Builder) bullets(chunks []model.ScoredChunk, now time.Time, visual bool) string {
	limit := b.maxMemories
	if visual {
		limit = b.visualMaxMemories
	}
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	lines := make([]string, 0, len(chunks))
	for _, c := range chunks {
		lines = append(lines, "• ("+humanize.RelTime(c.CreatedAt, now, "ago", "from now")+") "+c.Content)
	}
	return strings.Join(lines, "\n")
}

func writeVision(sb *strings.Builder, observation string, visual bool) {
	if !visual || observation == "" {
		return
	}
	sb.WriteString("\n\n" + visualInstruction)
	sb.WriteString("\n" + observation)
}

func block(role model.Role, content string) string {
	return "<|start_header_id|>" + string(role) + "<|end_header_id|>\n" + content + "\n<|eot_id|>"
}
