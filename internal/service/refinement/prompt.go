package refinement

import (
	"fmt"
	"math"
	"strings"
)

const systemPrompt = "You proofread speech recognition output. You fix recognition errors without changing the speaker's meaning or style, and you always answer with a single JSON object."

// BuildPrompt builds the correction prompt for one transcript
func BuildPrompt(rawText, conversationContext string, audioDuration float64) Prompt {
	var b strings.Builder

	if ctx := strings.TrimSpace(conversationContext); ctx != "" {
		b.WriteString("Conversation context:\n")
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}

	if audioDuration > 0 {
		minutes := audioDuration / 60
		fmt.Fprintf(&b, "The recording is %.0f seconds long; expect roughly %d to %d characters of text.\n\n",
			audioDuration,
			int(math.Round(minutes*150)),
			int(math.Round(minutes*250)),
		)
	}

	b.WriteString("Raw transcript:\n")
	b.WriteString(rawText)
	b.WriteString("\n\n")
	b.WriteString(`Correct homophones, misrecognized terms, punctuation and obvious filler repetitions.
Respond with JSON using these keys:
{
  "final_text": "the complete corrected transcript",
  "corrections": [{"original": "...", "corrected": "...", "reason": "..."}],
  "user_intent": "one sentence on what the speaker wants",
  "key_points": ["..."],
  "structure_suggestion": "optional advice on organizing the content",
  "unclear_parts": ["passages that could not be understood"]
}`)

	return Prompt{
		System: systemPrompt,
		User:   b.String(),
		JSON:   true,
	}
}
