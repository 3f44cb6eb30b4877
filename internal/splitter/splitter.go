// Package splitter turns document text into ordered chunks carrying the chain
// of enclosing headings. Splitting is a pure function: the same content and
// options always produce the same chunks in the same order.
package splitter

import (
	"strings"

	"github.com/jdkato/prose/v2"
)

// Options tunes chunking.
type Options struct {
	// MaxChunkSize is the soft cap on chunk length in runes. Paragraphs are
	// packed into chunks up to this size; an oversized paragraph is split on
	// sentence boundaries.
	MaxChunkSize int
}

// DefaultOptions returns the options used by the ingestion pipeline.
func DefaultOptions() Options {
	return Options{MaxChunkSize: 1200}
}

// Piece is one chunk of split output, in document order.
type Piece struct {
	Content    string
	TitleChain []string
}

// Split breaks content into ordered pieces. Markdown-style headings open a
// new chunk and establish the title chain for everything beneath them.
func Split(content string, opts Options) []Piece {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = DefaultOptions().MaxChunkSize
	}

	var pieces []Piece
	var titles []string // heading stack, index = level-1

	var buf strings.Builder
	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return
		}
		chain := append([]string(nil), titles...)
		for _, part := range splitOversized(text, opts.MaxChunkSize) {
			pieces = append(pieces, Piece{Content: part, TitleChain: chain})
		}
	}

	for _, block := range paragraphs(content) {
		if level, title, ok := heading(block); ok {
			flush()
			if level > len(titles) {
				titles = append(titles, title)
			} else {
				titles = append(titles[:level-1], title)
			}
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(block)+2 > opts.MaxChunkSize {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(block)
	}
	flush()

	return pieces
}

// paragraphs splits content on blank lines, preserving order.
func paragraphs(content string) []string {
	var out []string
	for _, raw := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n") {
		p := strings.TrimSpace(raw)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// heading parses a markdown ATX heading line, returning its level and title.
func heading(block string) (level int, title string, ok bool) {
	if strings.Contains(block, "\n") || !strings.HasPrefix(block, "#") {
		return 0, "", false
	}
	i := 0
	for i < len(block) && block[i] == '#' {
		i++
	}
	if i == 0 || i > 6 || i >= len(block) || block[i] != ' ' {
		return 0, "", false
	}
	title = strings.TrimSpace(block[i:])
	if title == "" {
		return 0, "", false
	}
	return i, title, true
}

// splitOversized breaks text over the size cap on sentence boundaries.
// Sentence segmentation comes from prose; a single sentence longer than the
// cap is hard-split on rune boundaries.
func splitOversized(text string, max int) []string {
	if len([]rune(text)) <= max {
		return []string{text}
	}

	sentences := segment(text)
	var out []string
	var buf strings.Builder
	for _, s := range sentences {
		if buf.Len() > 0 && buf.Len()+len(s)+1 > max {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
		if len([]rune(s)) > max {
			out = append(out, hardSplit(s, max)...)
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(s)
	}
	if buf.Len() > 0 {
		out = append(out, strings.TrimSpace(buf.String()))
	}
	return out
}

// segment splits text into sentences.
func segment(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithTagging(false),
		prose.WithTokenization(false))
	if err != nil {
		return []string{text}
	}
	var out []string
	for _, s := range doc.Sentences() {
		t := strings.TrimSpace(s.Text)
		if t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func hardSplit(s string, max int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > max {
		out = append(out, string(runes[:max]))
		runes = runes[max:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
