package realtime

import (
	"strings"
	"unicode"

	"github.com/MrWong99/speechcoach/pkg/feedback"
)

// FillerWords is the fixed list of disfluencies flagged during practice.
// Entries with spaces are matched as consecutive tokens.
var FillerWords = []string{
	"um", "uh", "er", "ah",
	"like", "basically", "actually", "literally", "so", "right",
	"you know", "i mean", "kind of", "sort of",
}

var fillerPhrases = func() [][]string {
	out := make([][]string, 0, len(FillerWords))
	for _, f := range FillerWords {
		out = append(out, strings.Fields(f))
	}
	// Longest phrases first so "kind of" wins over a shorter overlap.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}()

// Detect counts exact filler-word matches in words. Matching ignores case
// and surrounding punctuation. The result is ordered by first occurrence
// and is empty, not nil, when nothing matched.
func Detect(words []string) []feedback.FillerWord {
	tokens := make([]string, len(words))
	for i, w := range words {
		tokens[i] = normalizeToken(w)
	}

	out := []feedback.FillerWord{}
	index := map[string]int{}
	for i := 0; i < len(tokens); {
		matched := 0
		for _, phrase := range fillerPhrases {
			if hasPhraseAt(tokens, i, phrase) {
				matched = len(phrase)
				word := strings.Join(phrase, " ")
				if n, ok := index[word]; ok {
					out[n].Count++
				} else {
					index[word] = len(out)
					out = append(out, feedback.FillerWord{Word: word, Count: 1})
				}
				break
			}
		}
		if matched == 0 {
			matched = 1
		}
		i += matched
	}
	return out
}

func hasPhraseAt(tokens []string, i int, phrase []string) bool {
	if i+len(phrase) > len(tokens) {
		return false
	}
	for k, p := range phrase {
		if tokens[i+k] != p {
			return false
		}
	}
	return true
}

func normalizeToken(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}))
}
