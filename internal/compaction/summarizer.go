package compaction

import (
	"context"
	"strings"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// MaxTranscriptChars is the safety cap on the transcript text sent to the
// summarizer model (spec §4.3, §8): a runaway session's dropped-event
// window must never grow the summarization prompt without bound. Past the
// cap the transcript is truncated to its head and tail, since the facts a
// continuation needs are disproportionately at the start (who/what/why)
// and the end (latest state).
const MaxTranscriptChars = 200_000

const headFraction = 0.20
const tailFraction = 0.30

// truncateTranscript, once s exceeds MaxTranscriptChars, keeps the first
// headFraction*MaxTranscriptChars and the last tailFraction*MaxTranscriptChars
// bytes of s, dropping the middle and marking the cut so the model doesn't
// mistake it for a natural gap.
func truncateTranscript(s string) string {
	if len(s) <= MaxTranscriptChars {
		return s
	}
	head := int(float64(MaxTranscriptChars) * headFraction)
	tail := int(float64(MaxTranscriptChars) * tailFraction)
	return s[:head] + "\n...[truncated for length]...\n" + s[len(s)-tail:]
}

// modelSummarizer asks an llm.Client to summarize the dropped events.
// Kept as a thin adapter rather than importing internal/llm directly, so
// this package's tests can substitute a trivial fake without pulling in
// the genai SDK.
type modelSummarizer struct {
	stream func(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error
	model  string
}

// NewModelSummarizer adapts any func matching llm.Client.Stream's
// signature into a Summarizer.
func NewModelSummarizer(stream func(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error) Summarizer {
	return &modelSummarizer{stream: stream}
}

func (m *modelSummarizer) Summarize(ctx context.Context, events []models.Event) (string, error) {
	var transcript strings.Builder
	for _, ev := range events {
		text := ev.Text()
		if text == "" {
			continue
		}
		transcript.WriteString(string(ev.Author))
		transcript.WriteString(": ")
		transcript.WriteString(text)
		transcript.WriteString("\n")
	}

	prompt := []models.Content{
		{Role: "user", Parts: []models.Part{models.TextPart(
			"Summarize the following conversation history concisely, preserving any facts, decisions, " +
				"or open tasks a continuation would need:\n\n" + truncateTranscript(transcript.String()))}},
	}

	var summary strings.Builder
	err := m.stream(ctx, "", prompt, nil, func(p models.Part) {
		if p.Kind == models.PartText {
			summary.WriteString(p.Text)
		}
	})
	if err != nil {
		return "", err
	}
	return summary.String(), nil
}
