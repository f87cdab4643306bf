// Package health probes the external dependencies (generation backend,
// classifier) and runs the periodic jobs of a long-lived process.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agent-recall/internal/config"
)

// alive lists the status codes that prove a server is answering. Services
// that reject HEAD or require auth still count.
var alive = map[int]bool{
	http.StatusOK:               true,
	http.StatusMovedPermanently: true,
	http.StatusFound:            true,
	http.StatusUnauthorized:     true,
	http.StatusForbidden:        true,
	http.StatusNotFound:         true,
	http.StatusMethodNotAllowed: true,
}

// Result is the outcome of probing one target.
type Result struct {
	Name    string        `json:"name"`
	URL     string        `json:"url"`
	Up      bool          `json:"up"`
	Status  int           `json:"status,omitempty"`
	Latency time.Duration `json:"latency"`
	Err     string        `json:"error,omitempty"`
}

// Sink receives probe results.
type Sink interface {
	SetHealth(target string, up bool)
}

// Prober checks a fixed set of targets.
type Prober struct {
	targets []config.Target
	timeout time.Duration
	client  *http.Client
	sink    Sink
	logger  *zap.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithSink reports every result to s.
func WithSink(s Sink) Option {
	return func(p *Prober) { p.sink = s }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Prober) { p.logger = l.Named("health") }
}

// NewProber returns a Prober for cfg.Targets. Each probe gets cfg.Timeout.
func NewProber(cfg config.HealthConfig, opts ...Option) *Prober {
	p := &Prober{
		targets: cfg.Targets,
		timeout: cfg.Timeout,
		client:  &http.Client{},
		logger:  zap.NewNop(),
	}
	if p.timeout <= 0 {
		p.timeout = 2 * time.Second
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Check probes every target concurrently and returns results in target
// order. A slow target never delays the verdict on the others beyond its
// own timeout.
func (p *Prober) Check(ctx context.Context) []Result {
	results := make([]Result, len(p.targets))
	var g errgroup.Group
	for i, t := range p.targets {
		g.Go(func() error {
			results[i] = p.probe(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if p.sink != nil {
			p.sink.SetHealth(r.Name, r.Up)
		}
		if !r.Up {
			p.logger.Warn("dependency down", zap.String("target", r.Name), zap.String("url", r.URL),
				zap.Int("status", r.Status), zap.String("error", r.Err))
		}
	}
	return results
}

func (p *Prober) probe(ctx context.Context, t config.Target) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res := Result{Name: t.Name, URL: t.URL}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.URL, nil)
	if err != nil {
		res.Err = fmt.Errorf("create health request: %w", err).Error()
		return res
	}
	resp, err := p.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	resp.Body.Close()
	res.Status = resp.StatusCode
	res.Up = alive[resp.StatusCode]
	if !res.Up {
		res.Err = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return res
}

// AllUp reports whether every result is up.
func AllUp(results []Result) bool {
	for _, r := range results {
		if !r.Up {
			return false
		}
	}
	return true
}

// AcceptedStatuses returns the status codes treated as alive, ascending.
func AcceptedStatuses() []int {
	out := make([]int, 0, len(alive))
	for c := range alive {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}
