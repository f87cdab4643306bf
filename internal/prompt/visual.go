package prompt

import "strings"

var visualPhrases = []string{
	"what do you see", "do you see", "what am i holding", "am i holding",
	"in frame", "on screen", "camera", "picture", "photo", "faces",
	"who do you see", "look at", "can you see", "do you recognize",
}

// IsVisualQuestion reports whether text asks about what the camera shows.
// Idioms like "see you" or "I see" do not match on their own.
func IsVisualQuestion(text string) bool {
	t := strings.ToLower(text)
	for _, p := range visualPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}
