// Package session owns per-session continuity: the continuation token,
// the Baseline/Established state and the bounded conversation history.
// Each session is served by one goroutine, so turns of a session run
// strictly in order while different sessions proceed independently.
// Sessions idle for longer than Config.IdleTimeout are dropped and start
// again from Baseline.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("session manager closed")

// Config configures new sessions.
type Config struct {
	TailMode      bool
	MaxTokens     int
	CharsPerToken int
	StatsSize     int
	// QueueSize bounds pending turns per session.
	QueueSize int
	// IdleTimeout evicts a session after this long without work. Zero
	// disables eviction.
	IdleTimeout time.Duration
}

// Manager routes work to per-session actors.
type Manager struct {
	cfg    Config
	stats  *StatsLog
	logger *zap.Logger

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

type job struct {
	ctx  context.Context
	fn   func(context.Context, *State) error
	done chan error
}

type actor struct {
	jobs  chan job
	state *State
	// users counts Do calls holding the actor; guarded by Manager.mu.
	users int
}

// NewManager returns a Manager. Call Close to stop its goroutines.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Manager{
		cfg:    cfg,
		stats:  NewStatsLog(cfg.StatsSize),
		logger: logger.Named("session"),
		actors: make(map[string]*actor),
		quit:   make(chan struct{}),
	}
}

// Stats returns the shared generation log.
func (m *Manager) Stats() *StatsLog { return m.stats }

// Do runs fn on the session's actor and waits for it. fn receives ctx
// and must honor it; if ctx ends while fn is queued, fn is skipped.
func (m *Manager) Do(ctx context.Context, sessionID string, fn func(context.Context, *State) error) error {
	a, err := m.actor(sessionID)
	if err != nil {
		return err
	}
	defer m.release(a)
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case a.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.quit:
		return ErrClosed
	}
	select {
	case err := <-j.done:
		return err
	case <-m.quit:
		return ErrClosed
	}
}

// Sessions returns the ids of live sessions.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.actors))
	for id := range m.actors {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every actor and waits for them to exit. Queued turns that
// have not started are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.quit)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) actor(id string) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if a, ok := m.actors[id]; ok {
		a.users++
		return a, nil
	}
	a := &actor{
		jobs:  make(chan job, m.cfg.QueueSize),
		state: newState(id, m.cfg),
		users: 1,
	}
	m.actors[id] = a
	m.wg.Add(1)
	go m.run(a)
	m.logger.Debug("session started", zap.String("session", id))
	return a, nil
}

func (m *Manager) release(a *actor) {
	m.mu.Lock()
	a.users--
	m.mu.Unlock()
}

// evict removes a from the session table unless a turn holds it.
func (m *Manager) evict(a *actor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.users > 0 {
		return false
	}
	if m.actors[a.state.ID] == a {
		delete(m.actors, a.state.ID)
	}
	m.logger.Debug("session evicted", zap.String("session", a.state.ID))
	return true
}

func (m *Manager) run(a *actor) {
	defer m.wg.Done()

	var (
		timer *time.Timer
		idle  <-chan time.Time
	)
	if m.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(m.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}
	for {
		select {
		case <-m.quit:
			return
		case j := <-a.jobs:
			if err := j.ctx.Err(); err != nil {
				j.done <- err
			} else {
				j.done <- j.fn(j.ctx, a.state)
			}
		case <-idle:
			if m.evict(a) {
				return
			}
		}
		if timer != nil {
			timer.Reset(m.cfg.IdleTimeout)
		}
	}
}
