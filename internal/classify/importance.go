package classify

import (
	"slices"
	"strings"

	"github.com/rcliao/agent-recall/internal/model"
)

var (
	testingPhrases = []string{
		"what is my", "tell me my", "do you remember", "what's my",
		"memory test", "have i mentioned", "have i told",
		"tell me about my", "do you know my", "recall my",
	}
	questionPrefixes = []string{"what", "where", "how", "why", "can you", "do you", "tell me"}
	askPhrases       = []string{"tell me", "what is", "do you know"}
	factPhrases      = []string{"my", "i am", "i have", "i live", "is called", "my name is", "my wife", "my cat"}
	personalPhrases  = []string{"my wife", "my cat", "my name", "friend", "cohost", "name is"}
	temporalPhrases  = []string{"remember when", "first told", "originally", "back when", "the time i", "you said", "earlier"}
	urgentPhrases    = []string{"urgent", "important", "asap", "deadline", "tomorrow", "today", "critical", "remember this", "don't forget"}

	highTags = []string{"stating facts", "personal data", "referencing past", "urgent matters", "technical issues"}
	lowTags  = []string{"testing memory", "asking questions", "chatting casually"}
)

// ScoreImportance maps a labelled utterance to the 0-5 importance scale.
// User-supplied facts rank highest; recall questions and small talk rank
// lowest, since the answer to a question is worth more than the question.
func ScoreImportance(text, topic string, tags []string) int {
	lower := strings.ToLower(text)
	has := func(tag string) bool { return slices.Contains(tags, tag) }

	testing := containsAny(lower, testingPhrases)
	question := strings.Contains(text, "?") || has("asking questions") || hasAnyPrefix(lower, questionPrefixes)
	facts := has("stating facts") || containsAny(lower, factPhrases)
	personal := has("personal data") || containsAny(lower, personalPhrases)
	temporal := has("referencing past") || containsAny(lower, temporalPhrases)
	project := has("project activity") || has("future planning") ||
		strings.Contains(lower, "youtube") || strings.Contains(lower, "video")

	var score int
	switch {
	case testing:
		score = 0
	case question:
		score = 1
		if facts && has("stating facts") && !containsAny(lower, askPhrases) {
			score = 3
		}
	case facts && personal:
		score = 5
	case facts, temporal:
		score = 4
	case project:
		score = 3
	default:
		switch topic {
		case "projects", "tasks", "deadline", "fix", "technical issues":
			score = 3
		case "humor", "weather", "meta", "testing":
			score = 1
		default:
			score = 2
		}
	}

	switch {
	case has("asking questions") && !has("stating facts"):
		score--
	case anyTag(tags, highTags):
		score++
	case anyTag(tags, lowTags):
		score--
	}
	score = model.ClampImportance(score)

	if containsAny(lower, urgentPhrases) || has("urgent matters") {
		score = model.ClampImportance(score + 2)
	}
	if topic == "making jokes" && !(temporal || facts) {
		score = min(score, 2)
	}
	return score
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func anyTag(tags, set []string) bool {
	for _, t := range tags {
		if slices.Contains(set, t) {
			return true
		}
	}
	return false
}
