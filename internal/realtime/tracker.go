// Package realtime produces lightweight feedback while a speaker is still
// talking. A [Tracker] turns a growing transcript into a stream of newly
// finalized words, [Detect] flags filler words in them and a [Poller] runs
// the two on a fixed interval for the lifetime of a recording.
package realtime

import (
	"strings"
	"sync"
)

// Tracker keeps a high-water mark over a growing transcript so that every
// word is examined at most once.
//
// Text reaches a Tracker either as appended segments ([Tracker.Append],
// fed by a live recognizer) or as full snapshots ([Tracker.Sync], fed by
// clients that resend the whole transcript). A snapshot that does not
// extend the text already seen is treated as a new transcript and resets
// the mark.
//
// All methods are safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	text string
	mark int
}

// Append adds a finalized segment to the end of the transcript.
func (t *Tracker) Append(segment string) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.text != "" {
		t.text += " "
	}
	t.text += segment
}

// Sync replaces the tracked transcript with a full snapshot.
func (t *Tracker) Sync(transcript string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(transcript) < t.mark || !strings.HasPrefix(transcript, t.text[:t.mark]) {
		t.mark = 0
	}
	t.text = transcript
}

// Pending returns the words after the mark without consuming them.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Fields(t.text[t.mark:])
}

// Take consumes and returns the words after the mark, but only when there
// are more than minWords of them. Otherwise it returns false and the mark
// stays put so the words are considered again on the next call.
func (t *Tracker) Take(minWords int) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	words := strings.Fields(t.text[t.mark:])
	if len(words) == 0 || len(words) <= minWords {
		return nil, false
	}
	t.mark = len(t.text)
	return words, true
}

// Observe syncs to transcript and consumes every new word.
func (t *Tracker) Observe(transcript string) []string {
	t.Sync(transcript)
	words, _ := t.Take(0)
	return words
}

// Mark returns the current high-water mark in bytes of transcript.
func (t *Tracker) Mark() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mark
}

// Reset forgets the transcript and the mark.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.text = ""
	t.mark = 0
}
