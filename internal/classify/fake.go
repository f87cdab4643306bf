package classify

import (
	"context"
	"strings"
	"sync"

	"github.com/rcliao/agent-recall/internal/model"
)

// Fake classifies locally with ScoreImportance and no model. Topic and tags
// come from Fixed when set, otherwise from simple keyword cues.
type Fake struct {
	Fixed *model.Classification
	Err   error

	mu    sync.Mutex
	calls int
}

func (f *Fake) Classify(_ context.Context, text string) (model.Classification, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Err != nil {
		return model.Classification{}, f.Err
	}
	if f.Fixed != nil {
		return *f.Fixed, nil
	}
	if cls, ok := memoryTest(text); ok {
		return cls, nil
	}
	var scores []LabelScore
	switch {
	case strings.Contains(text, "?"):
		scores = []LabelScore{{"asking questions", 0.9}}
	case containsAny(strings.ToLower(text), factPhrases):
		scores = []LabelScore{{"stating facts", 0.9}}
	default:
		scores = []LabelScore{{"chatting casually", 0.7}}
	}
	return FromScores(text, scores, 0.6), nil
}

// Calls reports how many times Classify ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
