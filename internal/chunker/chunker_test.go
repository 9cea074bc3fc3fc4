package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"paperquote/internal/model"
	"paperquote/internal/pkg/pdfextract"
)

func testPages(texts ...string) []pdfextract.PageText {
	pages := make([]pdfextract.PageText, len(texts))
	for i, text := range texts {
		pages[i] = pdfextract.PageText{Number: i + 1, Text: text}
	}
	return pages
}

func TestSplitEmptyInput(t *testing.T) {
	c := New(Params{})

	require.Nil(t, c.Split(1, nil))
	require.Nil(t, c.Split(1, testPages("")))
	require.Nil(t, c.Split(1, testPages("   \n\t  ", "\n")))
}

func TestSplitDeterministic(t *testing.T) {
	c := New(Params{WindowSize: 100, Overlap: 20})
	pages := testPages("Introduction\n" + strings.Repeat("the quick brown fox jumps. ", 20))

	first := c.Split(7, pages)
	second := c.Split(7, pages)
	require.NotEmpty(t, first)
	require.Equal(t, first, second)

	seen := map[string]bool{}
	for _, d := range first {
		require.Len(t, d.ChunkKey, 64)
		require.False(t, seen[d.ChunkKey], "chunk keys must be unique within a run")
		seen[d.ChunkKey] = true
	}
}

func TestSplitKeysDependOnDocument(t *testing.T) {
	c := New(Params{WindowSize: 100, Overlap: 20})
	pages := testPages(strings.Repeat("identical content everywhere. ", 15))

	a := c.Split(1, pages)
	b := c.Split(2, pages)
	require.Equal(t, len(a), len(b))
	for i := range a {
		require.NotEqual(t, a[i].ChunkKey, b[i].ChunkKey)
	}
}

func TestSplitOverlapProgress(t *testing.T) {
	// No sentence terminators, so no snapping: offsets advance by
	// window minus overlap.
	c := New(Params{WindowSize: 100, Overlap: 20})
	drafts := c.Split(1, testPages(strings.Repeat("word ", 60)))

	require.Len(t, drafts, 4)
	require.Equal(t, []int{0, 80, 160, 240}, []int{
		drafts[0].CharOffset, drafts[1].CharOffset, drafts[2].CharOffset, drafts[3].CharOffset,
	})
	require.Len(t, []rune(drafts[0].Text), 100)
}

func TestSplitSnapsToSentenceBoundary(t *testing.T) {
	c := New(Params{WindowSize: 100, Overlap: 20, SentenceTolerance: 0.15})
	drafts := c.Split(1, testPages(strings.Repeat("one two three four. ", 10)))

	require.GreaterOrEqual(t, len(drafts), 2)
	require.True(t, strings.HasSuffix(drafts[0].Text, "."),
		"window end should snap back to the sentence boundary")
	// The next window starts overlap runes before the snapped end.
	require.Equal(t, len([]rune(drafts[0].Text))-20, drafts[1].CharOffset)
}

func TestSplitSectionLabelsAndPages(t *testing.T) {
	c := New(Params{WindowSize: 120, Overlap: 20})
	pages := testPages(
		"Introduction\n"+strings.Repeat("alpha beta. ", 12),
		"Results\n"+strings.Repeat("gamma delta. ", 12),
	)

	drafts := c.Split(1, pages)
	require.NotEmpty(t, drafts)

	require.Equal(t, model.SectionIntroduction, drafts[0].SectionLabel)
	require.Equal(t, 1, drafts[0].PageNumber)

	last := drafts[len(drafts)-1]
	require.Equal(t, model.SectionResults, last.SectionLabel)
	require.Equal(t, 2, last.PageNumber)

	for i := 1; i < len(drafts); i++ {
		require.Greater(t, drafts[i].CharOffset, drafts[i-1].CharOffset)
	}
}

func TestSplitBeforeFirstHeadingIsOther(t *testing.T) {
	c := New(Params{WindowSize: 60, Overlap: 10})
	pages := testPages(strings.Repeat("preamble text here ", 5) + "\nIntroduction\n" + strings.Repeat("body words ", 10))

	drafts := c.Split(1, pages)
	require.NotEmpty(t, drafts)
	require.Equal(t, model.SectionOther, drafts[0].SectionLabel)
	require.Equal(t, model.SectionIntroduction, drafts[len(drafts)-1].SectionLabel)
}
