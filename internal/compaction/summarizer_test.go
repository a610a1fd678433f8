package compaction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateTranscript_UnderCapPassesThrough(t *testing.T) {
	s := strings.Repeat("a", 100)
	assert.Equal(t, s, truncateTranscript(s))
}

func TestTruncateTranscript_OverCapKeepsHeadAndTail(t *testing.T) {
	head := strings.Repeat("h", MaxTranscriptChars)
	tail := strings.Repeat("t", MaxTranscriptChars)
	s := head + tail

	got := truncateTranscript(s)

	assert.Less(t, len(got), len(s))
	assert.True(t, strings.HasPrefix(got, strings.Repeat("h", 10)))
	assert.True(t, strings.HasSuffix(got, strings.Repeat("t", 10)))
	assert.Contains(t, got, "truncated")
}
