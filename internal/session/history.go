package session

import (
	"unicode/utf8"

	"github.com/rcliao/agent-recall/internal/model"
)

// History is a bounded conversation log trimmed oldest-first when its
// estimated token count exceeds the budget.
type History struct {
	maxTokens     int
	charsPerToken int
	turns         []model.Turn
}

// NewHistory returns an empty history with the given budget.
func NewHistory(maxTokens, charsPerToken int) *History {
	if maxTokens <= 0 {
		maxTokens = 7000
	}
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return &History{maxTokens: maxTokens, charsPerToken: charsPerToken}
}

// Append adds a turn and trims. The newest turn is never trimmed.
func (h *History) Append(t model.Turn) {
	h.turns = append(h.turns, t)
	h.trim()
}

// Turns returns a copy of the retained turns, oldest first.
func (h *History) Turns() []model.Turn {
	out := make([]model.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of retained turns.
func (h *History) Len() int { return len(h.turns) }

// Tokens estimates the token count of the retained turns.
func (h *History) Tokens() int {
	chars := 0
	for _, t := range h.turns {
		chars += utf8.RuneCountInString(t.Content)
	}
	return chars / h.charsPerToken
}

// LastOf returns the newest turn with the given role.
func (h *History) LastOf(role model.Role) (model.Turn, bool) {
	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == role {
			return h.turns[i], true
		}
	}
	return model.Turn{}, false
}

func (h *History) trim() {
	for len(h.turns) > 1 && h.Tokens() > h.maxTokens {
		h.turns = h.turns[1:]
	}
}
