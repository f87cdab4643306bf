package session

import (
	"github.com/rcliao/agent-recall/internal/model"
)

// Mode selects how the next prompt is rendered.
type Mode int

const (
	// ModeFull renders the persona, history and memories.
	ModeFull Mode = iota
	// ModeTail renders only a compact delta on top of a continuation token.
	ModeTail
)

func (m Mode) String() string {
	if m == ModeTail {
		return "tail"
	}
	return "full"
}

// State is one session's continuity state. It is only touched from the
// session's actor goroutine.
type State struct {
	ID      string
	History *History

	tailMode    bool
	token       []int
	established bool
}

func newState(id string, cfg Config) *State {
	return &State{
		ID:       id,
		History:  NewHistory(cfg.MaxTokens, cfg.CharsPerToken),
		tailMode: cfg.TailMode,
	}
}

// Established reports whether the session has left Baseline.
func (s *State) Established() bool { return s.established }

// Mode returns the prompt mode for the next turn. An established session
// without a token still renders full prompts.
func (s *State) Mode() Mode {
	if s.tailMode && s.established && len(s.token) > 0 {
		return ModeTail
	}
	return ModeFull
}

// Token returns the continuation token to send with the next request, or
// nil when the next prompt must be self-contained.
func (s *State) Token() []int {
	if s.Mode() != ModeTail {
		return nil
	}
	out := make([]int, len(s.token))
	copy(out, s.token)
	return out
}

// TokenLen is the length of the held token.
func (s *State) TokenLen() int { return len(s.token) }

// Commit records the token returned by a successful generation and
// reports whether it was anomalous. A non-empty token replaces the held
// one; an empty token leaves the previous one in place. Any successful
// generation moves the session to Established when tail mode is on.
func (s *State) Commit(token []int) (anomaly bool) {
	if s.tailMode {
		s.established = true
	}
	if len(token) == 0 {
		return true
	}
	s.token = append(s.token[:0], token...)
	return false
}

// Recap returns the newest user and assistant turns before the current
// one, for tail prompts.
func (s *State) Recap() (user, assistant string) {
	turns := s.History.Turns()
	if n := len(turns); n > 0 && turns[n-1].Role == model.RoleUser {
		turns = turns[:n-1]
	}
	for i := len(turns) - 1; i >= 0 && (user == "" || assistant == ""); i-- {
		switch turns[i].Role {
		case model.RoleUser:
			if user == "" {
				user = turns[i].Content
			}
		case model.RoleAssistant:
			if assistant == "" {
				assistant = turns[i].Content
			}
		}
	}
	return user, assistant
}
