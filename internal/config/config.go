// Package config loads agent-recall settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Scoring     Scoring           `yaml:"scoring"`
	Session     SessionConfig     `yaml:"session"`
	Prompt      PromptConfig      `yaml:"prompt"`
	Health      HealthConfig      `yaml:"health"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// DatabaseConfig configures the SQLite store and its connection pool.
type DatabaseConfig struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MinIdleConns    int           `yaml:"min_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
}

// OllamaConfig configures the streaming generation backend.
type OllamaConfig struct {
	URL               string        `yaml:"url"`
	Model             string        `yaml:"model"`
	ContextSize       int           `yaml:"context_size"`
	KeepAlive         string        `yaml:"keep_alive"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	Temperature       float64       `yaml:"temperature"`
	VisualTemperature float64       `yaml:"visual_temperature"`
	RepeatPenalty     float64       `yaml:"repeat_penalty"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // ollama | openai | hash
	Model     string        `yaml:"model"`
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"-"`
	Dims      int           `yaml:"dims"`
	CacheSize int64         `yaml:"cache_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ClassifierConfig configures the admission classifier.
type ClassifierConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	AdmitThreshold int           `yaml:"admit_threshold"`
	TagThreshold   float64       `yaml:"tag_threshold"`
}

// SummarizerConfig configures parent summarization.
type SummarizerConfig struct {
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ChunkingConfig configures sentence-window chunking.
type ChunkingConfig struct {
	MaxChars         int `yaml:"max_chars"`
	OverlapSentences int `yaml:"overlap_sentences"`
}

// TagRule adjusts the hybrid score when a chunk carries any of Tags.
type TagRule struct {
	Tags       []string `yaml:"tags"`
	Adjustment float64  `yaml:"adjustment"`
}

// Scoring holds every retrieval weight and threshold. Tag rules are
// evaluated in order and the first match wins.
type Scoring struct {
	Enabled                 bool      `yaml:"enabled"`
	K                       int       `yaml:"k"`
	SemanticWeight          float64   `yaml:"semantic_weight"`
	KeywordWeight           float64   `yaml:"keyword_weight"`
	RecencyWeight           float64   `yaml:"recency_weight"`
	SemanticThreshold       float64   `yaml:"semantic_threshold"`
	HistoryDedupThreshold   float64   `yaml:"history_dedup_threshold"`
	CandidateDedupThreshold float64   `yaml:"candidate_dedup_threshold"`
	Fanout                  int       `yaml:"fanout"`
	TagRules                []TagRule `yaml:"tag_rules"`
}

// SessionConfig configures the continuation state machine and history.
type SessionConfig struct {
	TailMode      bool `yaml:"tail_mode"`
	TailRecap     bool `yaml:"tail_recap"`
	MaxTokens     int  `yaml:"max_tokens"`
	CharsPerToken int  `yaml:"chars_per_token"`
	StatsSize     int  `yaml:"stats_size"`
	// IdleTimeout drops a session's state after this long without a turn.
	// Zero keeps sessions for the life of the process.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// PromptConfig configures prompt rendering.
type PromptConfig struct {
	Persona           string `yaml:"persona"`
	Reinforcement     string `yaml:"reinforcement"`
	MaxMemories       int    `yaml:"max_memories"`
	VisualMaxMemories int    `yaml:"visual_max_memories"`
}

// HealthConfig configures dependency probes.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Targets  []Target      `yaml:"targets"`
}

// Target is one probed dependency.
type Target struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// MaintenanceConfig configures scheduled pruning.
type MaintenanceConfig struct {
	Schedule      string   `yaml:"schedule"`
	MaxAgeDays    int      `yaml:"max_age_days"`
	MaxImportance int      `yaml:"max_importance"`
	Topics        []string `yaml:"topics"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultTagRules returns the stock ordered tag adjustments.
func DefaultTagRules() []TagRule {
	return []TagRule{
		{Tags: []string{"stating facts", "factual statement"}, Adjustment: -0.4},
		{Tags: []string{"personal data", "personal information"}, Adjustment: -0.3},
		{Tags: []string{"asking questions", "question about facts"}, Adjustment: 0.3},
		{Tags: []string{"testing memory", "memory test"}, Adjustment: 0.5},
	}
}

// Default returns a Config with every field at its stock value.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Database: DatabaseConfig{
			Path:            filepath.Join(home, ".agent-recall", "memory.db"),
			MaxOpenConns:    10,
			MinIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Ollama: OllamaConfig{
			URL:               "http://localhost:11434",
			Model:             "llama3.1:8b-instruct-q4_K_M",
			ContextSize:       8192,
			KeepAlive:         "1h",
			IdleTimeout:       60 * time.Second,
			Temperature:       0.4,
			VisualTemperature: 0.1,
			RepeatPenalty:     1.2,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "all-minilm",
			URL:       "http://localhost:11434",
			Dims:      384,
			CacheSize: 1 << 12,
			Timeout:   30 * time.Second,
		},
		Classifier: ClassifierConfig{
			URL:            "http://localhost:8001/classify",
			Timeout:        10 * time.Second,
			AdmitThreshold: 2,
			TagThreshold:   0.6,
		},
		Summarizer: SummarizerConfig{
			Model:     "llama3.1:8b-instruct-q4_K_M",
			MaxTokens: 64,
			Timeout:   30 * time.Second,
		},
		Chunking: ChunkingConfig{
			MaxChars:         512,
			OverlapSentences: 1,
		},
		Scoring: Scoring{
			Enabled:                 true,
			K:                       5,
			SemanticWeight:          0.7,
			KeywordWeight:           1.5,
			RecencyWeight:           0.75,
			SemanticThreshold:       1.0,
			HistoryDedupThreshold:   0.8,
			CandidateDedupThreshold: 0.75,
			Fanout:                  2,
			TagRules:                DefaultTagRules(),
		},
		Session: SessionConfig{
			TailMode:      true,
			TailRecap:     true,
			MaxTokens:     7000,
			CharsPerToken: 4,
			StatsSize:     200,
			IdleTimeout:   30 * time.Minute,
		},
		Prompt: PromptConfig{
			Persona:           DefaultPersona,
			Reinforcement:     DefaultReinforcement,
			MaxMemories:       3,
			VisualMaxMemories: 1,
		},
		Health: HealthConfig{
			Interval: 60 * time.Second,
			Timeout:  2 * time.Second,
			Targets: []Target{
				{Name: "ollama", URL: "http://localhost:11434"},
				{Name: "classifier", URL: "http://localhost:8001"},
			},
		},
		Maintenance: MaintenanceConfig{
			Schedule:      "@daily",
			MaxAgeDays:    30,
			MaxImportance: 1,
			Topics:        []string{"greetings", "small_talk", "meta"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AGENT_RECALL_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Ollama.URL = v
		if c.Embedding.Provider == "ollama" {
			c.Embedding.URL = v
		}
	}
	if v := os.Getenv("AGENT_RECALL_EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("AGENT_RECALL_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("AGENT_RECALL_EMBED_URL"); v != "" {
		c.Embedding.URL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Database.Path == "" {
		bad("database.path is empty")
	}
	if c.Database.MaxOpenConns < 1 {
		bad("database.max_open_conns must be >= 1, got %d", c.Database.MaxOpenConns)
	}
	if c.Database.MinIdleConns < 0 || c.Database.MinIdleConns > c.Database.MaxOpenConns {
		bad("database.min_idle_conns must be in [0, max_open_conns], got %d", c.Database.MinIdleConns)
	}
	if c.Chunking.MaxChars < 1 {
		bad("chunking.max_chars must be positive")
	}
	if c.Chunking.OverlapSentences < 0 {
		bad("chunking.overlap_sentences must be >= 0")
	}
	if c.Classifier.AdmitThreshold < 0 || c.Classifier.AdmitThreshold > 5 {
		bad("classifier.admit_threshold must be in [0,5], got %d", c.Classifier.AdmitThreshold)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "hash":
	default:
		bad("embedding.provider %q is not one of ollama, openai, hash", c.Embedding.Provider)
	}
	if c.Embedding.Dims < 1 {
		bad("embedding.dims must be positive")
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Session.MaxTokens < 1 || c.Session.CharsPerToken < 1 {
		bad("session.max_tokens and session.chars_per_token must be positive")
	}
	if c.Session.IdleTimeout < 0 {
		bad("session.idle_timeout must be >= 0")
	}
	if c.Prompt.MaxMemories < 0 || c.Prompt.VisualMaxMemories < 0 {
		bad("prompt memory budgets must be >= 0")
	}
	if c.Health.Interval <= 0 || c.Health.Timeout <= 0 {
		bad("health.interval and health.timeout must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		bad("logging.format %q is not json or console", c.Logging.Format)
	}
	return errors.Join(errs...)
}

// Validate checks the scoring weights and thresholds.
func (s Scoring) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: scoring."+format, append([]any{ErrInvalid}, args...)...))
	}
	if s.K < 1 {
		bad("k must be >= 1, got %d", s.K)
	}
	if s.Fanout < 1 {
		bad("fanout must be >= 1, got %d", s.Fanout)
	}
	if s.SemanticWeight < 0 || s.KeywordWeight < 0 || s.RecencyWeight < 0 {
		bad("weights must be non-negative")
	}
	if s.SemanticThreshold <= 0 {
		bad("semantic_threshold must be positive")
	}
	for _, th := range []struct {
		name string
		v    float64
	}{
		{"history_dedup_threshold", s.HistoryDedupThreshold},
		{"candidate_dedup_threshold", s.CandidateDedupThreshold},
	} {
		if th.v <= 0 || th.v > 1 {
			bad("%s must be in (0,1], got %v", th.name, th.v)
		}
	}
	for i, r := range s.TagRules {
		if len(r.Tags) == 0 {
			bad("tag_rules[%d] has no tags", i)
		}
	}
	return errors.Join(errs...)
}
