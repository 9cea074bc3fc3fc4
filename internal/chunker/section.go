package chunker

import (
	"regexp"
	"strings"

	"paperquote/internal/model"
)

// SectionDetector inspects one line of text and reports the canonical
// section label it opens, if any. It is a pluggable strategy so the fuzzy
// heading heuristic can be swapped or tested apart from the windowing.
type SectionDetector func(line string) (string, bool)

// Headings are detected on short standalone lines, optionally prefixed with
// numbering ("3.", "IV.", "2.1"). Scientific papers rarely exceed this
// length for a section title.
const maxHeadingLen = 80

var headingPrefix = regexp.MustCompile(`^(?:[0-9]+(?:\.[0-9]+)*\.?|[IVXLC]+\.)\s+`)

// canonicalSections collapses the recognized heading vocabulary onto the
// fixed label set carried by chunks.
var canonicalSections = map[string]string{
	"abstract":              model.SectionOther,
	"introduction":          model.SectionIntroduction,
	"background":            model.SectionIntroduction,
	"related work":          model.SectionIntroduction,
	"methods":               model.SectionMethods,
	"methodology":           model.SectionMethods,
	"materials and methods": model.SectionMethods,
	"results":               model.SectionResults,
	"findings":              model.SectionResults,
	"discussion":            model.SectionDiscussion,
	"conclusion":            model.SectionDiscussion,
	"conclusions":           model.SectionDiscussion,
	"references":            model.SectionOther,
}

// NewHeadingDetector builds the default detector over a configurable
// vocabulary; an empty vocabulary means the full canonical one. Vocabulary
// entries not present in the canonical map fall back to SectionOther so
// operators can tag custom headings without code changes.
func NewHeadingDetector(vocabulary []string) SectionDetector {
	if len(vocabulary) == 0 {
		vocabulary = make([]string, 0, len(canonicalSections))
		for term := range canonicalSections {
			vocabulary = append(vocabulary, term)
		}
	}
	vocab := make(map[string]string, len(vocabulary))
	for _, term := range vocabulary {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		label, ok := canonicalSections[term]
		if !ok {
			label = model.SectionOther
		}
		vocab[term] = label
	}

	return func(line string) (string, bool) {
		line = strings.TrimSpace(line)
		if line == "" || len(line) > maxHeadingLen {
			return "", false
		}
		line = headingPrefix.ReplaceAllString(line, "")
		line = strings.TrimRight(line, ".:")
		label, ok := vocab[strings.ToLower(line)]
		return label, ok
	}
}
