// Package classify labels utterances for the admission filter. The remote
// model is a zero-shot label scorer; topic, tags and importance are derived
// locally from its scores.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/agent-recall/internal/model"
)

// Classifier labels one utterance.
type Classifier interface {
	Classify(ctx context.Context, text string) (model.Classification, error)
}

// Labels are the candidate labels sent to the zero-shot model.
var Labels = []string{
	"stating facts",
	"asking questions",
	"personal data",
	"project activity",
	"future planning",
	"testing memory",
	"referencing past",
	"making jokes",
	"chatting casually",
	"technical issues",
	"urgent matters",
}

// LabelScore is one label's probability.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type classifyRequest struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

type classifyResponse struct {
	Scores []LabelScore `json:"scores"`
}

// HTTPClassifier calls a zero-shot classification service.
type HTTPClassifier struct {
	url          string
	tagThreshold float64
	client       *http.Client
}

// NewHTTPClassifier returns a classifier posting to url.
func NewHTTPClassifier(url string, tagThreshold float64, timeout time.Duration) *HTTPClassifier {
	if tagThreshold <= 0 {
		tagThreshold = 0.6
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{url: url, tagThreshold: tagThreshold, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (model.Classification, error) {
	if cls, ok := memoryTest(text); ok {
		return cls, nil
	}
	body, _ := json.Marshal(classifyRequest{Text: text, Labels: Labels})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return model.Classification{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.Classification{}, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return model.Classification{}, fmt.Errorf("classifier error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Classification{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if len(out.Scores) == 0 {
		return model.Classification{}, fmt.Errorf("classifier returned no scores")
	}
	return FromScores(text, out.Scores, c.tagThreshold), nil
}

// FromScores turns label scores into a Classification. The topic is the
// best label; tags are labels scoring at least threshold, with "asking
// questions" kept only when it is also the topic.
func FromScores(text string, scores []LabelScore, threshold float64) model.Classification {
	sorted := make([]LabelScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	topic := sorted[0].Label
	var tags []string
	for _, s := range sorted {
		if s.Score < threshold {
			break
		}
		if s.Label == "asking questions" && topic != "asking questions" {
			continue
		}
		tags = append(tags, s.Label)
	}
	return model.Classification{
		Importance: ScoreImportance(text, topic, tags),
		Topic:      topic,
		Tags:       tags,
	}.Clamped()
}

func memoryTest(text string) (model.Classification, bool) {
	lower := strings.ToLower(text)
	for _, p := range []string{"memory test", "session recall", "session-only"} {
		if strings.Contains(lower, p) {
			return model.Classification{Importance: 0, Topic: "testing", Tags: []string{"testing memory"}}, true
		}
	}
	return model.Classification{}, false
}
