package markdown

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterMarker = "---"

// ExtractFrontmatter strips a leading YAML frontmatter block from text and
// parses it into a metadata map. The returned body never contains the block.
//
// A malformed YAML block is still stripped but yields empty metadata, so a
// bad header cannot leak into chunking. Text without a leading marker is
// returned unchanged.
func ExtractFrontmatter(text string) (map[string]any, string) {
	rest, ok := strings.CutPrefix(text, frontmatterMarker)
	if !ok {
		return map[string]any{}, text
	}
	// The opening marker must be alone on its line.
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 || strings.TrimSpace(rest[:nl]) != "" {
		return map[string]any{}, text
	}
	rest = rest[nl+1:]

	end, bodyStart := findClosingMarker(rest)
	if end < 0 {
		return map[string]any{}, text
	}

	meta := map[string]any{}
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil || meta == nil {
		meta = map[string]any{}
	}
	return meta, rest[bodyStart:]
}

// findClosingMarker locates a line consisting solely of the marker.
// Returns the offset where the YAML block ends and where the body begins.
func findClosingMarker(s string) (end, bodyStart int) {
	offset := 0
	for {
		nl := strings.IndexByte(s[offset:], '\n')
		var line string
		var next int
		if nl < 0 {
			line = s[offset:]
			next = len(s)
		} else {
			line = s[offset : offset+nl]
			next = offset + nl + 1
		}
		if strings.TrimSpace(line) == frontmatterMarker {
			return offset, next
		}
		if nl < 0 {
			return -1, -1
		}
		offset = next
	}
}
