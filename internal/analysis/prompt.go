package analysis

import (
	"strings"

	"github.com/MrWong99/speechcoach/pkg/culture"
)

const basePrompt = `You are an expert public speaking coach. Analyse the transcript of a spoken practice answer.

Respond with ONLY a JSON object, no markdown and no commentary, in exactly this shape:
{
  "fillerWords": [{"word": "<filler word>", "count": <integer >= 0>}],
  "clarity": <integer 0-100>,
  "structure": <integer 0-100>,
  "pace": "too slow" | "good" | "too fast",
  "suggestions": ["<specific, actionable suggestion>"],
  "summary": "<two or three sentences that end on an encouraging note>"
}

Rules:
- fillerWords lists disfluencies such as um, uh, like, you know, so, basically, in order of first use. Use an empty list when there are none.
- clarity rates how easy the answer is to follow; structure rates its organisation.
- pace is judged from the wording and rhythm of the transcript.
- Give between two and four suggestions.`

// SystemPrompt returns the scoring instruction for the given audience.
func SystemPrompt(c culture.Context) string {
	p := culture.Lookup(c)
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nAudience: ")
	b.WriteString(p.Name)
	b.WriteString(". ")
	b.WriteString(p.Guidance)
	b.WriteString(" Tailor the suggestions and summary to this audience.")
	return b.String()
}

// userPrompt wraps the transcript for the model.
func userPrompt(transcript string) string {
	return "Transcript:\n\"\"\"\n" + transcript + "\n\"\"\""
}
