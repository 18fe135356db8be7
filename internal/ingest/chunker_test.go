package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText_CollapsesNewlinesAndSpaces(t *testing.T) {
	in := "line1\n\n\n\nline2   with    spaces\t\tand tabs  \n\n\ntrailing  "
	out := NormalizeText(in)
	assert.NotContains(t, out, "\n\n\n")
	assert.Contains(t, out, "line2 with spaces and tabs")
	assert.Equal(t, out, strings.TrimSpace(out))
}

func TestNormalizeText_StripsLeadingTrailingBlankLines(t *testing.T) {
	out := NormalizeText("\n\n  hello  \n\n")
	assert.Equal(t, "hello", out)
}

func TestSplitText_ShortTextReturnsSingleChunk(t *testing.T) {
	c := NewChunker()
	chunks := c.SplitText("a short document")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short document", chunks[0])
}

func TestSplitText_LongTextProducesMultipleChunksWithinSize(t *testing.T) {
	c := NewChunker()
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("This is a reasonably long sentence used to pad out the document. ")
	}
	chunks := c.SplitText(sb.String())
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), defaultChunkSize+defaultChunkOverlap)
	}
}

func TestSplitText_DropsEmptyFragments(t *testing.T) {
	c := NewChunker()
	chunks := c.SplitText("para one\n\n\n\n\n\npara two")
	for _, ch := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(ch))
	}
}

func TestSplitText_TextWithHeadingYieldsChunks(t *testing.T) {
	c := NewChunker()
	text := strings.Repeat("filler words to extend length ", 40) + "\n\n## Heading\n\n" + strings.Repeat("more filler content here ", 40)
	chunks := c.SplitText(text)
	require.NotEmpty(t, chunks)
}
