// Package admission decides whether a user utterance is worth storing.
package admission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/agent-recall/internal/classify"
	"github.com/rcliao/agent-recall/internal/model"
)

// Filter gates storage on classifier importance.
type Filter struct {
	classifier classify.Classifier
	threshold  int
	timeout    time.Duration
	logger     *zap.Logger
}

// New returns a Filter admitting utterances with importance >= threshold.
func New(c classify.Classifier, threshold int, timeout time.Duration, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Filter{
		classifier: c,
		threshold:  model.ClampImportance(threshold),
		timeout:    timeout,
		logger:     logger.Named("admission"),
	}
}

// ShouldAdmit classifies text once and reports whether it should be stored.
// It never fails: a classifier error or timeout yields the fallback
// classification, which is not admitted.
func (f *Filter) ShouldAdmit(ctx context.Context, text string) (bool, model.Classification) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cls, err := f.classifier.Classify(ctx, text)
	if err != nil {
		f.logger.Warn("classification failed", zap.Error(err))
		return false, model.FallbackClassification()
	}
	cls = cls.Clamped()
	admit := cls.Importance >= f.threshold
	f.logger.Debug("classified",
		zap.Int("importance", cls.Importance),
		zap.String("topic", cls.Topic),
		zap.Strings("tags", cls.Tags),
		zap.Bool("admit", admit))
	return admit, cls
}
