package markdown

import "strings"

// sentenceSplitter divides oversized sections at sentence and paragraph
// boundaries, preferring them over raw character cuts, with a configured
// overlap between adjacent pieces.
type sentenceSplitter struct {
	maxSize int
	overlap int
}

func newSentenceSplitter(maxSize, overlap int) *sentenceSplitter {
	return &sentenceSplitter{maxSize: maxSize, overlap: overlap}
}

// split returns text unchanged when it fits, otherwise packs sentences into
// pieces of at most maxSize runes with overlap runes carried between
// adjacent pieces.
func (s *sentenceSplitter) split(text string) []string {
	if len([]rune(text)) <= s.maxSize {
		return []string{text}
	}

	sentences := splitSentences(text)

	var pieces []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		pieces = append(pieces, strings.Join(current, ""))
		// Carry a sentence tail of at least overlap runes into the next piece.
		var tail []string
		tailLen := 0
		for i := len(current) - 1; i >= 0 && tailLen < s.overlap; i-- {
			tail = append([]string{current[i]}, tail...)
			tailLen += len([]rune(current[i]))
		}
		// The overlap must never fill a whole piece or packing stops progressing.
		if tailLen >= s.maxSize {
			tail, tailLen = nil, 0
		}
		current, currentLen = tail, tailLen
	}

	for _, sent := range sentences {
		n := len([]rune(sent))
		if n > s.maxSize {
			// A single sentence beyond maxSize falls back to raw rune windows.
			flush()
			pieces = append(pieces, hardCut(sent, s.maxSize, s.overlap)...)
			current, currentLen = nil, 0
			continue
		}
		if currentLen+n > s.maxSize {
			flush()
		}
		current = append(current, sent)
		currentLen += n
	}
	if len(current) > 0 && currentLen > 0 {
		// Drop a trailing piece that is pure overlap of the previous one.
		joined := strings.Join(current, "")
		if len(pieces) == 0 || !strings.HasSuffix(pieces[len(pieces)-1], joined) {
			pieces = append(pieces, joined)
		}
	}
	return pieces
}

// sentenceEnders close a sentence; a paragraph break does too.
const sentenceEnders = ".!?。！？；;"

// splitSentences cuts text after sentence-ending punctuation or blank
// lines, keeping every rune so the concatenation equals the input.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if strings.ContainsRune(sentenceEnders, r) {
			out = append(out, string(runes[start:i+1]))
			start = i + 1
			continue
		}
		// Paragraph separator: a newline followed by another newline.
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			out = append(out, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// hardCut slices s into rune windows of size max with the given overlap.
func hardCut(s string, max, overlap int) []string {
	runes := []rune(s)
	step := max - overlap
	if step <= 0 {
		step = max
	}
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + max
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
