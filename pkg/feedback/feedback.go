// Package feedback defines the structured coaching result produced by the
// analysis pipeline and the fixed feedback objects substituted whenever the
// scoring model cannot produce a usable one.
//
// A [SpeechFeedback] that leaves this package through [Parse] has always
// passed [SpeechFeedback.Validate]. Callers that receive feedback from an
// untrusted source (a remote server, a language model) must route it through
// [Parse] or [Sanitize] so that malformed feedback never reaches a user.
package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Pace is the speaking-rate verdict.
type Pace string

const (
	PaceTooSlow Pace = "too slow"
	PaceGood    Pace = "good"
	PaceTooFast Pace = "too fast"
)

// IsValid reports whether p is one of the recognised pace values.
func (p Pace) IsValid() bool {
	switch p {
	case PaceTooSlow, PaceGood, PaceTooFast:
		return true
	}
	return false
}

// MaxScore is the upper bound for Clarity and Structure.
const MaxScore = 100

// Sentinel validation errors.
var (
	ErrMissingSummary = errors.New("feedback: summary is empty")
	ErrInvalidPace    = errors.New("feedback: invalid pace")
	ErrScoreRange     = errors.New("feedback: score out of range")
	ErrFillerWord     = errors.New("feedback: invalid filler word entry")
)

// FillerWord counts occurrences of one verbal disfluency.
type FillerWord struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// SpeechFeedback is the result of analysing one practice answer.
type SpeechFeedback struct {
	FillerWords []FillerWord `json:"fillerWords"`
	Clarity     int          `json:"clarity"`
	Structure   int          `json:"structure"`
	Pace        Pace         `json:"pace"`
	Suggestions []string     `json:"suggestions"`
	Summary     string       `json:"summary"`
}

// Validate reports every constraint violation in f, joined.
func (f SpeechFeedback) Validate() error {
	var errs []error
	if f.Clarity < 0 || f.Clarity > MaxScore {
		errs = append(errs, fmt.Errorf("%w: clarity %d", ErrScoreRange, f.Clarity))
	}
	if f.Structure < 0 || f.Structure > MaxScore {
		errs = append(errs, fmt.Errorf("%w: structure %d", ErrScoreRange, f.Structure))
	}
	if !f.Pace.IsValid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidPace, f.Pace))
	}
	if strings.TrimSpace(f.Summary) == "" {
		errs = append(errs, ErrMissingSummary)
	}
	for i, fw := range f.FillerWords {
		if strings.TrimSpace(fw.Word) == "" || fw.Count < 0 {
			errs = append(errs, fmt.Errorf("%w: index %d", ErrFillerWord, i))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy of f.
func (f SpeechFeedback) Clone() SpeechFeedback {
	out := f
	out.FillerWords = append([]FillerWord(nil), f.FillerWords...)
	out.Suggestions = append([]string(nil), f.Suggestions...)
	return out
}

// normalize replaces nil slices with empty ones so the JSON form always
// carries lists rather than null.
func (f *SpeechFeedback) normalize() {
	if f.FillerWords == nil {
		f.FillerWords = []FillerWord{}
	}
	if f.Suggestions == nil {
		f.Suggestions = []string{}
	}
}

// wireFeedback mirrors SpeechFeedback with pointer fields so that missing
// required keys can be told apart from zero values.
type wireFeedback struct {
	FillerWords *[]FillerWord `json:"fillerWords"`
	Clarity     *float64      `json:"clarity"`
	Structure   *float64      `json:"structure"`
	Pace        *string       `json:"pace"`
	Suggestions *[]string     `json:"suggestions"`
	Summary     *string       `json:"summary"`
}

// Parse decodes model or wire output into validated feedback. Markdown code
// fences around the JSON object are tolerated. Every required field must be
// present with the right type; scores must be whole numbers.
func Parse(content string) (SpeechFeedback, error) {
	cleaned := stripMarkdown(content)

	var w wireFeedback
	if err := json.Unmarshal([]byte(cleaned), &w); err != nil {
		return SpeechFeedback{}, fmt.Errorf("feedback: parse: %w", err)
	}

	var missing []string
	if w.FillerWords == nil {
		missing = append(missing, "fillerWords")
	}
	if w.Clarity == nil {
		missing = append(missing, "clarity")
	}
	if w.Structure == nil {
		missing = append(missing, "structure")
	}
	if w.Pace == nil {
		missing = append(missing, "pace")
	}
	if w.Suggestions == nil {
		missing = append(missing, "suggestions")
	}
	if w.Summary == nil {
		missing = append(missing, "summary")
	}
	if len(missing) > 0 {
		return SpeechFeedback{}, fmt.Errorf("feedback: parse: missing fields %s", strings.Join(missing, ", "))
	}

	clarity, ok := wholeScore(*w.Clarity)
	if !ok {
		return SpeechFeedback{}, fmt.Errorf("%w: clarity %v is not an integer", ErrScoreRange, *w.Clarity)
	}
	structure, ok := wholeScore(*w.Structure)
	if !ok {
		return SpeechFeedback{}, fmt.Errorf("%w: structure %v is not an integer", ErrScoreRange, *w.Structure)
	}

	f := SpeechFeedback{
		FillerWords: *w.FillerWords,
		Clarity:     clarity,
		Structure:   structure,
		Pace:        Pace(strings.ToLower(strings.TrimSpace(*w.Pace))),
		Suggestions: *w.Suggestions,
		Summary:     strings.TrimSpace(*w.Summary),
	}
	f.normalize()
	if err := f.Validate(); err != nil {
		return SpeechFeedback{}, err
	}
	return f, nil
}

// Sanitize returns f unchanged when it is valid and [Fallback] otherwise.
// The boolean reports whether f was kept.
func Sanitize(f *SpeechFeedback) (SpeechFeedback, bool) {
	if f == nil || f.Validate() != nil {
		return Fallback(), false
	}
	out := f.Clone()
	out.normalize()
	return out, true
}

func wholeScore(v float64) (int, bool) {
	n := int(v)
	if float64(n) != v {
		return 0, false
	}
	return n, true
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
