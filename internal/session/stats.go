package session

import (
	"sync"
	"time"
)

// TurnStats describes one generation.
type TurnStats struct {
	SessionID          string        `json:"session_id"`
	At                 time.Time     `json:"at"`
	Mode               string        `json:"mode"`
	PromptEvalCount    int           `json:"prompt_eval_count"`
	EvalCount          int           `json:"eval_count"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration"`
	EvalDuration       time.Duration `json:"eval_duration"`
	TotalDuration      time.Duration `json:"total_duration"`
	TokenLen           int           `json:"token_len"`
	Anomaly            string        `json:"anomaly,omitempty"`
}

// StatsLog keeps the most recent generations in a ring buffer.
type StatsLog struct {
	mu   sync.Mutex
	buf  []TurnStats
	next int
	full bool
}

// NewStatsLog returns a log holding up to size entries.
func NewStatsLog(size int) *StatsLog {
	if size <= 0 {
		size = 200
	}
	return &StatsLog{buf: make([]TurnStats, size)}
}

// Add records s, evicting the oldest entry when full.
func (l *StatsLog) Add(s TurnStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = s
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

// Snapshot returns the entries oldest first.
func (l *StatsLog) Snapshot() []TurnStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]TurnStats, l.next)
		copy(out, l.buf[:l.next])
		return out
	}
	out := make([]TurnStats, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	return append(out, l.buf[:l.next]...)
}
