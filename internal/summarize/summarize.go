// Package summarize produces the one-sentence parent summaries that drive
// coarse retrieval.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/agent-recall/internal/chunker"
	"github.com/rcliao/agent-recall/internal/ollama"
)

const promptTemplate = `You are a summarization expert. Your task is to create a concise, one-sentence summary of the provided text.
Focus on the core subject and the main action or conclusion. The summary should be neutral and factual.

---
Text to summarize:
"""%s"""
---

Respond with ONLY the single-sentence summary and nothing else.`

// Generator is the slice of the Ollama client the summarizer needs.
type Generator interface {
	Generate(ctx context.Context, r ollama.Request, onToken func(string)) (*ollama.Response, error)
}

// LLM summarizes with the generation backend.
type LLM struct {
	gen       Generator
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewLLM returns a summarizer. An empty model uses the generator's default.
func NewLLM(gen Generator, model string, maxTokens int, timeout time.Duration) *LLM {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLM{gen: gen, model: model, maxTokens: maxTokens, timeout: timeout}
}

func (s *LLM) Summarize(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temp := 0.0
	resp, err := s.gen.Generate(ctx, ollama.Request{
		Model:       s.model,
		Prompt:      fmt.Sprintf(promptTemplate, text),
		Temperature: &temp,
		NumPredict:  s.maxTokens,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return clean(resp.Text), nil
}

// clean keeps the first non-empty line and strips wrapping quotes.
func clean(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.Trim(line, "\"'`")
	}
	return ""
}

// FirstSentence is a model-free summarizer returning the first sentence.
type FirstSentence struct{}

func (FirstSentence) Summarize(_ context.Context, text string) (string, error) {
	sentences := chunker.SplitSentences(text)
	if len(sentences) == 0 {
		return "", nil
	}
	return sentences[0], nil
}
