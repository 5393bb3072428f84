package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitChunksGroupsParagraphs(t *testing.T) {
	text := "alpha\n\nbeta\n\ngamma"
	assert.Equal(t, []string{"alpha\n\nbeta\n\ngamma"}, splitChunks(text, 100, 8))
	assert.Equal(t, []string{"alpha\n\nbeta", "gamma"}, splitChunks(text, 12, 8))
}

func TestSplitChunksBreaksLongParagraph(t *testing.T) {
	para := strings.Repeat("word ", 50)
	chunks := splitChunks(para, 40, 0)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 40)
	}
	assert.Equal(t, strings.Join(strings.Fields(para), " "), strings.Join(chunks, " "))
}

func TestSplitChunksRespectsMaxChunks(t *testing.T) {
	text := strings.Repeat("paragraph of text\n\n", 20)
	assert.Len(t, splitChunks(text, 20, 3), 3)
}

func TestSplitChunksEmpty(t *testing.T) {
	assert.Nil(t, splitChunks("  \n\n ", 100, 3))
}

func TestCutPointKeepsRunes(t *testing.T) {
	s := strings.Repeat("é", 10)
	cut := cutPoint(s, 5)
	assert.Equal(t, 4, cut)
}
