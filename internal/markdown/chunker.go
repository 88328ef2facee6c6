// Package markdown turns markdown documents into indexable chunks.
//
// Splitting happens at top-level heading boundaries only: everything under
// one H1, including deeper sub-headings, tables and code fences, stays
// together as a single candidate chunk. Candidates that exceed the
// configured maximum are further divided at sentence boundaries with
// overlap. Chunking is fully deterministic for a given body and
// configuration, which is what makes re-ingestion idempotent.
package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Chunk is one contiguous slice of a document body.
type Chunk struct {
	Ordinal      int    // Position within the document (0, 1, 2...)
	SectionTitle string // Text of the originating H1, "" for preamble or headingless documents
	Text         string
}

// Chunker splits markdown bodies at H1 boundaries.
type Chunker struct {
	parser   goldmark.Markdown
	maxSize  int // maximum chunk size in runes before secondary splitting
	overlap  int // overlap between adjacent sub-chunks in runes
	splitter *sentenceSplitter
}

// NewChunker creates a chunker. maxSize and overlap are rune counts;
// non-positive values fall back to 2048/200.
func NewChunker(maxSize, overlap int) *Chunker {
	if maxSize <= 0 {
		maxSize = 2048
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = 200
	}
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Chunker{
		parser:   md,
		maxSize:  maxSize,
		overlap:  overlap,
		splitter: newSentenceSplitter(maxSize, overlap),
	}
}

// Chunk splits body into ordered chunks. A body with no top-level headings
// yields exactly one chunk equal to the whole body; an empty body yields
// zero chunks, which callers must treat as an error rather than silently
// dropping the document.
func (c *Chunker) Chunk(body string) ([]Chunk, error) {
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}

	source := []byte(body)
	reader := text.NewReader(source)
	doc := c.parser.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(1), // top-level headings are the only split points
		toc.Compact(true),
	)
	if err != nil {
		return nil, err
	}

	sections := c.sections(doc, source, tree.Items)

	var chunks []Chunk
	for _, sec := range sections {
		if strings.TrimSpace(sec.text) == "" {
			continue
		}
		for _, piece := range c.splitter.split(sec.text) {
			chunks = append(chunks, Chunk{
				Ordinal:      len(chunks),
				SectionTitle: sec.title,
				Text:         strings.TrimSpace(piece),
			})
		}
	}
	return chunks, nil
}

type section struct {
	title string
	text  string
}

// sections slices the source at H1 line boundaries. Text before the first
// heading becomes an untitled preamble section.
func (c *Chunker) sections(doc ast.Node, source []byte, items toc.Items) []section {
	type boundary struct {
		title string
		start int
	}
	var bounds []boundary
	for _, item := range items {
		node := findHeadingByID(doc, string(item.ID))
		if node == nil || node.Lines().Len() == 0 {
			continue
		}
		seg := node.Lines().At(0)
		bounds = append(bounds, boundary{
			title: string(item.Title),
			start: lineStart(source, seg.Start),
		})
	}

	if len(bounds) == 0 {
		return []section{{title: "", text: string(source)}}
	}

	var sections []section
	if bounds[0].start > 0 {
		sections = append(sections, section{title: "", text: string(source[:bounds[0].start])})
	}
	for i, b := range bounds {
		end := len(source)
		if i+1 < len(bounds) {
			end = bounds[i+1].start
		}
		sections = append(sections, section{title: b.title, text: string(source[b.start:end])})
	}
	return sections
}

// findHeadingByID locates a heading node by its auto-generated ID.
func findHeadingByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// lineStart walks back from pos to the start of its line, so a section
// slice includes the heading marker itself and concatenating all chunk
// texts reproduces the body.
func lineStart(source []byte, pos int) int {
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}
