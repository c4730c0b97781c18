package realtime

import (
	"fmt"
	"time"
)

// Kind classifies a realtime feedback item.
type Kind string

const (
	KindFiller Kind = "filler"
	KindPace   Kind = "pace"
)

// Comfortable speaking range in words per minute.
const (
	MinComfortableWPM = 110
	MaxComfortableWPM = 170
)

// Item is one piece of realtime feedback.
type Item struct {
	Kind           Kind    `json:"kind"`
	Message        string  `json:"message"`
	Word           string  `json:"word,omitempty"`
	Count          int     `json:"count,omitempty"`
	WordsPerMinute float64 `json:"wordsPerMinute,omitempty"`
}

// Evaluate computes the heuristics for one batch of new words spoken over
// elapsed. A pace item is added only when elapsed is positive and the rate
// falls outside the comfortable range.
func Evaluate(words []string, elapsed time.Duration) []Item {
	items := []Item{}
	for _, f := range Detect(words) {
		msg := fmt.Sprintf("You said %q", f.Word)
		if f.Count > 1 {
			msg += fmt.Sprintf(" %d times", f.Count)
		}
		items = append(items, Item{
			Kind:    KindFiller,
			Message: msg + ". Try a short pause instead.",
			Word:    f.Word,
			Count:   f.Count,
		})
	}
	if elapsed > 0 && len(words) > 0 {
		wpm := float64(len(words)) / elapsed.Minutes()
		switch {
		case wpm > MaxComfortableWPM:
			items = append(items, Item{
				Kind:           KindPace,
				Message:        fmt.Sprintf("You are speaking quickly (%.0f words/min). Slow down a little.", wpm),
				WordsPerMinute: wpm,
			})
		case wpm < MinComfortableWPM:
			items = append(items, Item{
				Kind:           KindPace,
				Message:        fmt.Sprintf("You are speaking slowly (%.0f words/min). Try to keep the momentum.", wpm),
				WordsPerMinute: wpm,
			})
		}
	}
	return items
}
