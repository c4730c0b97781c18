// Package practice runs one practice recording from start to feedback.
//
// A [Session] starts microphone capture and live transcription together,
// surfaces realtime hints while the speaker talks, and on stop hands the
// finalized clip and transcript to the analysis service before recording
// the session in the profile statistics.
package practice

import "errors"

// State is a [Session] lifecycle stage.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
	StateAnalyzing    State = "analyzing"
	StateComplete     State = "complete"
	StateError        State = "error"
)

// Session errors.
var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("practice: invalid state transition")

	// ErrAnalysisInFlight is returned by Stop while a previous Stop is still
	// finalizing or analyzing. The call has no effect.
	ErrAnalysisInFlight = errors.New("practice: analysis already in progress")
)

var transitions = map[State][]State{
	StateIdle:         {StateRecording, StateError},
	StateRecording:    {StateTranscribing, StateAnalyzing, StateError},
	StateTranscribing: {StateAnalyzing, StateError},
	StateAnalyzing:    {StateComplete, StateError},
	StateComplete:     {StateIdle},
	StateError:        {StateIdle},
}

// CanTransition reports whether from may move directly to to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
