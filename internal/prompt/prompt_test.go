package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/agent-recall/internal/config"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/session"
)

var now = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func chunk(content string, age time.Duration) model.ScoredChunk {
	return model.ScoredChunk{MemoryChunk: model.MemoryChunk{Content: content, CreatedAt: now.Add(-age)}}
}

func newBuilder() *Builder {
	return New(config.Default().Prompt)
}

func TestFullPrompt(t *testing.T) {
	b := newBuilder()
	got := b.Build(Input{
		Mode: session.ModeFull,
		History: []model.Turn{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
		},
		Utterance: "What is my cat's name?",
		Chunks:    []model.ScoredChunk{chunk("My cat's name is Winston.", 3*time.Minute)},
		Now:       now,
	})

	assert.True(t, strings.HasPrefix(got, "<|start_header_id|>system<|end_header_id|>\n"+config.DefaultPersona+"\n<|eot_id|>"))
	assert.Contains(t, got, "<|start_header_id|>user<|end_header_id|>\nhi\n<|eot_id|>")
	assert.Contains(t, got, "<|start_header_id|>assistant<|end_header_id|>\nhello\n<|eot_id|>")
	assert.Contains(t, got, "Current time: 2025-03-14 09:26:53.")
	assert.Contains(t, got, "• (3 minutes ago) My cat's name is Winston.")
	assert.True(t, strings.HasSuffix(got,
		"<|start_header_id|>user<|end_header_id|>\nWhat is my cat's name?\n<|eot_id|>\n\n<|start_header_id|>assistant<|end_header_id|>"))

	// persona, history, memories, user in that order
	assert.Less(t, strings.Index(got, "hello"), strings.Index(got, "Relevant memories"))
	assert.Less(t, strings.Index(got, "Relevant memories"), strings.Index(got, "What is my cat's name?"))
}

func TestFullPromptWithoutMemoriesOmitsSection(t *testing.T) {
	got := newBuilder().Build(Input{Mode: session.ModeFull, Utterance: "hey", Now: now})
	assert.NotContains(t, got, "Relevant memories")
	assert.Contains(t, got, "Current time:")
}

func TestTailPrompt(t *testing.T) {
	got := newBuilder().Build(Input{
		Mode:           session.ModeTail,
		History:        []model.Turn{{Role: model.RoleUser, Content: "old turn"}},
		Utterance:      "and the dog?",
		Chunks:         []model.ScoredChunk{chunk("The dog is Rex.", 2*time.Hour)},
		RecapUser:      "what is my cat called",
		RecapAssistant: "Winston",
		Now:            now,
	})

	assert.NotContains(t, got, config.DefaultPersona)
	assert.NotContains(t, got, "old turn", "tail prompts never resend history")
	assert.True(t, strings.HasPrefix(got, "<|start_header_id|>system<|end_header_id|>\n"+config.DefaultReinforcement))
	assert.Contains(t, got, "Session recap:\nUser: what is my cat called\nAssistant: Winston")
	assert.Contains(t, got, "Memories:\n• (2 hours ago) The dog is Rex.")
	assert.True(t, strings.HasSuffix(got, assistantHeader))
}

func TestMemoryBudget(t *testing.T) {
	chunks := []model.ScoredChunk{
		chunk("one", time.Minute), chunk("two", time.Minute),
		chunk("three", time.Minute), chunk("four", time.Minute),
	}
	b := newBuilder()

	got := b.Build(Input{Mode: session.ModeFull, Utterance: "tell me stuff", Chunks: chunks, Now: now})
	assert.Equal(t, 3, strings.Count(got, "• "))
	assert.NotContains(t, got, "four")

	got = b.Build(Input{Mode: session.ModeTail, Utterance: "what do you see?", Chunks: chunks, Now: now})
	assert.Equal(t, 1, strings.Count(got, "• "))
	assert.Equal(t, 1, b.MemoryBudget("what am I holding"))
	assert.Equal(t, 3, b.MemoryBudget("hello"))
}

func TestObservationOnlyOnVisualTurns(t *testing.T) {
	b := newBuilder()
	obs := "A person holding a red mug."

	got := b.Build(Input{Mode: session.ModeFull, Utterance: "What am I holding?", Observation: obs, Now: now})
	assert.Contains(t, got, obs)
	assert.Contains(t, got, "camera observation")

	got = b.Build(Input{Mode: session.ModeFull, Utterance: "How are you?", Observation: obs, Now: now})
	assert.NotContains(t, got, obs)
}

func TestBuildIsDeterministic(t *testing.T) {
	in := Input{
		Mode:      session.ModeFull,
		History:   []model.Turn{{Role: model.RoleUser, Content: "a"}},
		Utterance: "b",
		Chunks:    []model.ScoredChunk{chunk("c", time.Hour)},
		Now:       now,
	}
	b := newBuilder()
	assert.Equal(t, b.Build(in), b.Build(in))
}

func TestIsVisualQuestion(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"What do you see?", true},
		{"can you see my face", true},
		{"Look at this", true},
		{"I see what you mean", false},
		{"See you tomorrow", false},
		{"let's see how it goes", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsVisualQuestion(tt.text), tt.text)
	}
}
