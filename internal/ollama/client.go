// Package ollama is a streaming client for Ollama's /api/generate endpoint.
// It returns the continuation context the server hands back so callers can
// chain turns without resending the whole conversation.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/agent-recall/internal/config"
)

var (
	// ErrIdleTimeout means the stream went quiet for longer than the idle timeout.
	ErrIdleTimeout = errors.New("ollama stream idle timeout")
	// ErrIncomplete means the stream ended without a done event.
	ErrIncomplete = errors.New("ollama stream ended before done")
)

const maxLine = 16 << 20

// Request is one generation.
type Request struct {
	// Model overrides the client default when set.
	Model   string
	Prompt  string
	Context []int
	Raw     bool
	// Temperature overrides the configured default when non-nil.
	Temperature *float64
	NumPredict  int
}

// Stats are the server-reported counters of the final event.
type Stats struct {
	PromptEvalCount    int           `json:"prompt_eval_count"`
	EvalCount          int           `json:"eval_count"`
	LoadDuration       time.Duration `json:"load_duration"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration"`
	EvalDuration       time.Duration `json:"eval_duration"`
	TotalDuration      time.Duration `json:"total_duration"`
}

// Response is a completed generation.
type Response struct {
	Text    string
	Context []int
	Stats   Stats
}

// StatusError is returned for non-200 replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama error %d: %s", e.Code, e.Body)
}

type options struct {
	NumCtx        int     `json:"num_ctx,omitempty"`
	Temperature   float64 `json:"temperature"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"`
}

type generateRequest struct {
	Model     string  `json:"model"`
	Prompt    string  `json:"prompt"`
	Context   []int   `json:"context,omitempty"`
	Raw       bool    `json:"raw,omitempty"`
	Stream    bool    `json:"stream"`
	KeepAlive string  `json:"keep_alive,omitempty"`
	Options   options `json:"options"`
}

type event struct {
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	Context            []int  `json:"context"`
	Error              string `json:"error"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	EvalCount          int    `json:"eval_count"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalDuration       int64  `json:"eval_duration"`
	TotalDuration      int64  `json:"total_duration"`
}

// Client talks to one Ollama server.
type Client struct {
	cfg    config.OllamaConfig
	http   *http.Client
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l.Named("ollama") }
}

// New returns a Client. The http.Client has no overall timeout; streams
// are bounded by cfg.IdleTimeout and the caller's context.
func New(cfg config.OllamaConfig, opts ...Option) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	c := &Client{cfg: cfg, http: &http.Client{}, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generate streams a completion, calling onToken for every fragment.
// A cancelled or failed stream returns an error and no context.
func (c *Client) Generate(ctx context.Context, r Request, onToken func(string)) (*Response, error) {
	model := r.Model
	if model == "" {
		model = c.cfg.Model
	}
	temp := c.cfg.Temperature
	if r.Temperature != nil {
		temp = *r.Temperature
	}
	body, err := json.Marshal(generateRequest{
		Model:     model,
		Prompt:    r.Prompt,
		Context:   r.Context,
		Raw:       r.Raw,
		Stream:    true,
		KeepAlive: c.cfg.KeepAlive,
		Options: options{
			NumCtx:        c.cfg.ContextSize,
			Temperature:   temp,
			RepeatPenalty: c.cfg.RepeatPenalty,
			NumPredict:    r.NumPredict,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var idle atomic.Bool
	timer := time.AfterFunc(c.cfg.IdleTimeout, func() {
		idle.Store(true)
		cancel()
	})
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.streamErr(idle.Load(), fmt.Errorf("ollama request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var text strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		timer.Reset(c.cfg.IdleTimeout)
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode ollama event: %w", err)
		}
		if ev.Error != "" {
			return nil, fmt.Errorf("ollama stream error: %s", ev.Error)
		}
		if ev.Response != "" {
			text.WriteString(ev.Response)
			if onToken != nil {
				onToken(ev.Response)
			}
		}
		if ev.Done {
			out := &Response{
				Text:    strings.TrimSpace(text.String()),
				Context: ev.Context,
				Stats: Stats{
					PromptEvalCount:    ev.PromptEvalCount,
					EvalCount:          ev.EvalCount,
					LoadDuration:       time.Duration(ev.LoadDuration),
					PromptEvalDuration: time.Duration(ev.PromptEvalDuration),
					EvalDuration:       time.Duration(ev.EvalDuration),
					TotalDuration:      time.Duration(ev.TotalDuration),
				},
			}
			c.logger.Debug("generation done",
				zap.Int("prompt_eval_count", ev.PromptEvalCount),
				zap.Int("eval_count", ev.EvalCount),
				zap.Int("context_len", len(ev.Context)),
				zap.Duration("total", out.Stats.TotalDuration))
			return out, nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, c.streamErr(idle.Load(), fmt.Errorf("read ollama stream: %w", err))
	}
	if idle.Load() {
		return nil, ErrIdleTimeout
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrIncomplete
}

func (c *Client) streamErr(idle bool, err error) error {
	if idle {
		return fmt.Errorf("%w: %v", ErrIdleTimeout, err)
	}
	return err
}
