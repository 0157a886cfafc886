package usecase

import (
	"strings"

	"github.com/satriahrh/gemini-chat/domain"
)

// BuildPrompt renders the transcript as "<role>: <content>" lines. A non-empty
// persona is placed first, followed by a blank line. window > 0 keeps only
// the last window turns.
func BuildPrompt(turns []domain.Turn, persona string, window int) string {
	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	var b strings.Builder
	if persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}
