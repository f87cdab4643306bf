package retrieval

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Ratio is the character-level similarity of a and b in [0,1]:
// 2*M/T where M is the number of matched characters and T the total length.
func Ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
