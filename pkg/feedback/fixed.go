package feedback

// Default scores used by the fixed feedback objects.
const (
	FallbackScore     = 60
	InsufficientScore = 50
)

// Fallback returns the feedback substituted when the scoring model fails or
// returns something that does not parse. Each call returns a fresh copy.
func Fallback() SpeechFeedback {
	return SpeechFeedback{
		FillerWords: []FillerWord{},
		Clarity:     FallbackScore,
		Structure:   FallbackScore,
		Pace:        PaceGood,
		Suggestions: []string{
			"Practice speaking at a steady, comfortable pace.",
			"Organise your answer with a clear beginning, middle and end.",
		},
		Summary: "Sorry, we couldn't fully analyse your speech this time. Keep practising, every session helps you improve!",
	}
}

// InsufficientSpeech returns the feedback used when the transcript is too
// short to score.
func InsufficientSpeech() SpeechFeedback {
	return SpeechFeedback{
		FillerWords: []FillerWord{},
		Clarity:     InsufficientScore,
		Structure:   InsufficientScore,
		Pace:        PaceGood,
		Suggestions: []string{
			"Try speaking for a little longer so there is enough to analyse.",
			"Make sure your microphone is close and unmuted.",
			"Answer the prompt in a few complete sentences.",
		},
		Summary: "We didn't catch enough speech to give detailed feedback. Give it another go, you've got this!",
	}
}
