// Package chunker splits utterance text into overlapping sentence windows.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxChars         = 512
	DefaultOverlapSentences = 1
)

// Options configures chunking behavior.
type Options struct {
	// MaxChars bounds the summed sentence length of one window. A single
	// sentence longer than MaxChars is split on word boundaries.
	MaxChars int
	// OverlapSentences is how many trailing sentences of a window are
	// repeated at the start of the next one.
	OverlapSentences int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		MaxChars:         DefaultMaxChars,
		OverlapSentences: DefaultOverlapSentences,
	}
}

// ChunkResult is one window with the sentence span it covers.
type ChunkResult struct {
	Text          string
	StartSentence int
	EndSentence   int // inclusive
}

// Chunk splits text into sentence windows. Empty text yields no chunks.
func Chunk(text string, opts Options) []ChunkResult {
	if opts.MaxChars <= 0 {
		opts = DefaultOptions()
	}
	if opts.OverlapSentences < 0 {
		opts.OverlapSentences = 0
	}

	var sentences []string
	for _, s := range SplitSentences(text) {
		sentences = append(sentences, splitLong(s, opts.MaxChars)...)
	}
	if len(sentences) == 0 {
		return nil
	}

	var results []ChunkResult
	var window []string
	start, length := 0, 0

	flush := func(end int) {
		results = append(results, ChunkResult{
			Text:          strings.Join(window, " "),
			StartSentence: start,
			EndSentence:   end,
		})
	}

	for i := 0; i < len(sentences); {
		n := utf8.RuneCountInString(sentences[i])
		if len(window) == 0 || length+n <= opts.MaxChars {
			if len(window) == 0 {
				start = i
			}
			window = append(window, sentences[i])
			length += n
			i++
			continue
		}
		flush(i - 1)
		// A window no longer than the overlap is not repeated.
		if len(window) > opts.OverlapSentences {
			i -= opts.OverlapSentences
		}
		window = nil
		length = 0
	}
	if len(window) > 0 {
		flush(len(sentences) - 1)
	}
	return results
}

var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "sr": true,
	"jr": true, "st": true, "vs": true, "etc": true, "e.g": true, "i.e": true,
	"approx": true,
}

// SplitSentences breaks text after runs of '.', '!' or '?' that are
// followed by whitespace, skipping common abbreviations and decimals.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var out []string
	begin := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		end := i
		for end+1 < len(runes) && (isTerminal(runes[end+1]) || isCloser(runes[end+1])) {
			end++
		}
		if end+1 < len(runes) && !unicode.IsSpace(runes[end+1]) {
			i = end
			continue
		}
		if runes[i] == '.' && end == i && isAbbreviation(runes[begin:i]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[begin : end+1])); s != "" {
			out = append(out, s)
		}
		begin = end + 1
		i = end
	}
	if s := strings.TrimSpace(string(runes[begin:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool { return r == '.' || r == '!' || r == '?' }

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

func isAbbreviation(before []rune) bool {
	j := len(before)
	for j > 0 && !unicode.IsSpace(before[j-1]) {
		j--
	}
	word := strings.ToLower(strings.TrimLeft(string(before[j:]), "(\"'"))
	if word == "" {
		return false
	}
	if utf8.RuneCountInString(word) == 1 && word != "i" && unicode.IsUpper(before[len(before)-1]) {
		return true // initials
	}
	return abbreviations[word]
}

// splitLong breaks an over-budget sentence on word boundaries.
func splitLong(s string, max int) []string {
	if utf8.RuneCountInString(s) <= max {
		return []string{s}
	}
	var parts []string
	var cur strings.Builder
	curLen := 0
	for _, w := range strings.Fields(s) {
		wl := utf8.RuneCountInString(w)
		if curLen > 0 && curLen+1+wl > max {
			parts = append(parts, cur.String())
			cur.Reset()
			curLen = 0
		}
		for wl > max {
			r := []rune(w)
			parts = append(parts, string(r[:max]))
			w = string(r[max:])
			wl -= max
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(w)
		curLen += wl
	}
	if curLen > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
