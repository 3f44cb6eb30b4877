package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split("", DefaultOptions()))
	assert.Empty(t, Split("   \n\n  ", DefaultOptions()))
}

func TestSplit_SingleParagraph(t *testing.T) {
	pieces := Split("Just one small paragraph.", DefaultOptions())
	require.Len(t, pieces, 1)
	assert.Equal(t, "Just one small paragraph.", pieces[0].Content)
	assert.Empty(t, pieces[0].TitleChain)
}

func TestSplit_TitleChainFollowsHeadings(t *testing.T) {
	content := "# Guide\n\nIntro text.\n\n## Setup\n\nSetup text.\n\n### Linux\n\nLinux text.\n\n## Usage\n\nUsage text."
	pieces := Split(content, DefaultOptions())
	require.Len(t, pieces, 4)

	assert.Equal(t, []string{"Guide"}, pieces[0].TitleChain)
	assert.Equal(t, []string{"Guide", "Setup"}, pieces[1].TitleChain)
	assert.Equal(t, []string{"Guide", "Setup", "Linux"}, pieces[2].TitleChain)
	// A sibling H2 pops the H3 off the stack.
	assert.Equal(t, []string{"Guide", "Usage"}, pieces[3].TitleChain)
}

func TestSplit_PacksParagraphsUpToCap(t *testing.T) {
	content := "aaa.\n\nbbb.\n\nccc."
	pieces := Split(content, Options{MaxChunkSize: 100})
	require.Len(t, pieces, 1)
	assert.Equal(t, "aaa.\n\nbbb.\n\nccc.", pieces[0].Content)

	pieces = Split(content, Options{MaxChunkSize: 8})
	assert.Len(t, pieces, 3)
}

func TestSplit_OversizedParagraphSplitsOnSentences(t *testing.T) {
	sentence := "This sentence has a reasonable number of words in it."
	content := strings.TrimSpace(strings.Repeat(sentence+" ", 10))
	pieces := Split(content, Options{MaxChunkSize: 120})

	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, len([]rune(p.Content)), 120)
		assert.NotEmpty(t, p.Content)
	}
}

func TestSplit_HugeSentenceHardSplits(t *testing.T) {
	content := strings.Repeat("x", 500)
	pieces := Split(content, Options{MaxChunkSize: 200})
	require.Len(t, pieces, 3)
	assert.Equal(t, 200, len(pieces[0].Content))
	assert.Equal(t, 200, len(pieces[1].Content))
	assert.Equal(t, 100, len(pieces[2].Content))
}

func TestSplit_Deterministic(t *testing.T) {
	content := "# A\n\nSome text here.\n\n## B\n\n" + strings.Repeat("More text. ", 200)
	first := Split(content, DefaultOptions())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Split(content, DefaultOptions()))
	}
}

func TestSplit_HeadingEdgeCases(t *testing.T) {
	// A hash without a following space is not a heading.
	pieces := Split("#not-a-heading\n\ntext", DefaultOptions())
	require.Len(t, pieces, 1)
	assert.Empty(t, pieces[0].TitleChain)
	assert.Contains(t, pieces[0].Content, "#not-a-heading")

	// Heading with no body produces no chunk for the heading itself.
	pieces = Split("# Lonely Heading", DefaultOptions())
	assert.Empty(t, pieces)
}
