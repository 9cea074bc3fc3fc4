// Package chunker splits extracted document text into overlapping,
// section-tagged passages with deterministic, content-addressed keys.
package chunker

import (
	"sort"
	"strings"
	"unicode"

	"paperquote/internal/model"
	"paperquote/internal/pkg/pdfextract"
)

// Draft is a chunk before embedding: everything the vector index needs
// except the vector itself.
type Draft struct {
	ChunkKey     string
	DocumentID   uint
	SectionLabel string
	PageNumber   int
	CharOffset   int
	Text         string
}

// Params control windowing. Identical input and params always yield
// identical boundaries and keys; ingestion idempotence depends on it.
type Params struct {
	WindowSize        int
	Overlap           int
	SentenceTolerance float64
	Detect            SectionDetector
}

type Chunker struct {
	params Params
}

func New(params Params) *Chunker {
	if params.WindowSize <= 0 {
		params.WindowSize = 1200
	}
	if params.Overlap < 0 || params.Overlap >= params.WindowSize {
		params.Overlap = params.WindowSize / 6
	}
	if params.SentenceTolerance <= 0 || params.SentenceTolerance >= 1 {
		params.SentenceTolerance = 0.15
	}
	if params.Detect == nil {
		params.Detect = NewHeadingDetector(nil)
	}
	return &Chunker{params: params}
}

// mark records that a new section label takes effect at a rune offset.
type mark struct {
	offset int
	label  string
}

// Split turns per-page text into overlapping drafts. Empty or whitespace
// input yields zero drafts and no error; that is a content condition.
func (c *Chunker) Split(documentID uint, pages []pdfextract.PageText) []Draft {
	text, pageStarts, sections := c.assemble(pages)
	if len(strings.TrimSpace(string(text))) == 0 {
		return nil
	}

	window := c.params.WindowSize
	step := window - c.params.Overlap
	tolerance := int(float64(window) * c.params.SentenceTolerance)

	var drafts []Draft
	for start := 0; start < len(text); start += step {
		end := start + window
		if end >= len(text) {
			end = len(text)
		} else if snapped := snapToSentence(text, end, tolerance); snapped > start {
			end = snapped
		}

		piece := string(text[start:end])
		if strings.TrimSpace(piece) != "" {
			drafts = append(drafts, Draft{
				ChunkKey:     model.ChunkKeyFor(documentID, start, piece),
				DocumentID:   documentID,
				SectionLabel: labelAt(sections, start),
				PageNumber:   pageAt(pageStarts, pages, start),
				CharOffset:   start,
				Text:         piece,
			})
		}

		if end == len(text) {
			break
		}
		// Keep forward progress when the snap pulled end close to start.
		if end-c.params.Overlap > start {
			step = end - c.params.Overlap - start
		} else {
			step = window - c.params.Overlap
		}
	}
	return drafts
}

// assemble concatenates pages into one rune slice while recording page
// start offsets and section-heading positions.
func (c *Chunker) assemble(pages []pdfextract.PageText) ([]rune, []int, []mark) {
	var text []rune
	pageStarts := make([]int, len(pages))
	sections := []mark{{offset: 0, label: model.SectionOther}}

	for i, page := range pages {
		pageStarts[i] = len(text)
		lineStart := len(text)
		for _, line := range strings.SplitAfter(page.Text, "\n") {
			if label, ok := c.params.Detect(line); ok {
				sections = append(sections, mark{offset: lineStart, label: label})
			}
			text = append(text, []rune(line)...)
			lineStart = len(text)
		}
		// Page boundaries separate words in most layouts.
		if len(text) > 0 && !unicode.IsSpace(text[len(text)-1]) {
			text = append(text, '\n')
		}
	}
	return text, pageStarts, sections
}

// snapToSentence moves end back to just after the last sentence terminator
// within the tolerance window; returns -1 if none falls inside it.
func snapToSentence(text []rune, end, tolerance int) int {
	low := end - tolerance
	if low < 0 {
		low = 0
	}
	for i := end - 1; i >= low; i-- {
		if !isSentenceEnd(text[i]) {
			continue
		}
		if i+1 >= len(text) || unicode.IsSpace(text[i+1]) {
			return i + 1
		}
	}
	return -1
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// labelAt returns the section label in effect at a rune offset: the label
// of the nearest preceding heading, SectionOther before the first one.
func labelAt(sections []mark, offset int) string {
	idx := sort.Search(len(sections), func(i int) bool {
		return sections[i].offset > offset
	})
	return sections[idx-1].label
}

func pageAt(pageStarts []int, pages []pdfextract.PageText, offset int) int {
	idx := sort.Search(len(pageStarts), func(i int) bool {
		return pageStarts[i] > offset
	})
	if idx == 0 {
		return 1
	}
	return pages[idx-1].Number
}
