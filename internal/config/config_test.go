package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultScoring(t *testing.T) {
	s := Default().Scoring
	assert.Equal(t, 5, s.K)
	assert.Equal(t, 0.7, s.SemanticWeight)
	assert.Equal(t, 1.5, s.KeywordWeight)
	assert.Equal(t, 0.75, s.RecencyWeight)
	assert.Equal(t, 1.0, s.SemanticThreshold)
	require.Len(t, s.TagRules, 4)
	assert.Equal(t, -0.4, s.TagRules[0].Adjustment)
	assert.Equal(t, 0.5, s.TagRules[3].Adjustment)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AGENT_RECALL_DB", "")
	t.Setenv("OLLAMA_HOST", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Chunking.MaxChars)
	assert.True(t, cfg.Session.TailMode)
}

func TestLoadOverridesAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
scoring:
  k: 3
  keyword_weight: 2.0
session:
  tail_mode: false
health:
  interval: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("AGENT_RECALL_DB", "/tmp/x.db")
	t.Setenv("OLLAMA_HOST", "http://gpu:11434")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scoring.K)
	assert.Equal(t, 2.0, cfg.Scoring.KeywordWeight)
	assert.Equal(t, 0.7, cfg.Scoring.SemanticWeight, "unset keys keep defaults")
	assert.False(t, cfg.Session.TailMode)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, "http://gpu:11434", cfg.Ollama.URL)
	assert.Equal(t, "http://gpu:11434", cfg.Embedding.URL)
}

func TestValidateRejectsBadScoring(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero k", func(c *Config) { c.Scoring.K = 0 }},
		{"negative weight", func(c *Config) { c.Scoring.KeywordWeight = -1 }},
		{"dedup above one", func(c *Config) { c.Scoring.HistoryDedupThreshold = 1.5 }},
		{"empty tag rule", func(c *Config) { c.Scoring.TagRules = append(c.Scoring.TagRules, TagRule{Adjustment: 1}) }},
		{"pool", func(c *Config) { c.Database.MinIdleConns = 50 }},
		{"negative idle timeout", func(c *Config) { c.Session.IdleTimeout = -time.Second }},
		{"provider", func(c *Config) { c.Embedding.Provider = "bert" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestValidateReportsInStableOrder(t *testing.T) {
	sc := Default().Scoring
	sc.HistoryDedupThreshold = 0
	sc.CandidateDedupThreshold = 2

	for i := 0; i < 20; i++ {
		err := sc.Validate()
		require.Error(t, err)
		lines := strings.Split(err.Error(), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "history_dedup_threshold")
		assert.Contains(t, lines[1], "candidate_dedup_threshold")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scoring: [oops"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
