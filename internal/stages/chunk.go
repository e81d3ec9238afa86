package stages

import "strings"

// ChunkConfig controls the chunker (spec §4.2).
type ChunkConfig struct {
	Size       int
	Overlap    int
	Separators []string
}

// DefaultSeparators mirrors a typical text-splitting priority: paragraph,
// line, sentence, word.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Chunk splits text into ordered, sub-Size chunks, greedily preferring the
// first separator (in priority order) whose split keeps the chunk at or
// under Size, snapping the split point back to the nearest word boundary,
// and overlapping each chunk with the trailing Overlap runes of the
// previous one. Never emits an empty chunk; the last chunk may be
// under-size. An empty input yields zero chunks (spec §8).
func Chunk(text string, cfg ChunkConfig) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	size := cfg.Size
	if size <= 0 {
		size = 1000
	}
	overlap := cfg.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}

	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapSplitPoint(runes, start, end, seps)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// snapSplitPoint finds the best boundary at or before the naive cut point
// `limit`: first try the earliest separator (by priority) whose occurrence
// falls within (start, limit]; fall back to backing up to the nearest
// whitespace run so no chunk ends mid-word.
//
// Both start/limit and the returned cut are rune indices into runes, so the
// separator search must stay in rune space too — re-encoding the window to a
// string and using strings.LastIndex would return a byte offset, which only
// agrees with a rune offset for ASCII-only text.
func snapSplitPoint(runes []rune, start, limit int, seps []string) int {
	window := runes[start:limit]
	for _, sep := range seps {
		if sep == "" {
			continue
		}
		sepRunes := []rune(sep)
		if idx := lastRuneIndex(window, sepRunes); idx >= 0 {
			cut := start + idx + len(sepRunes)
			if cut > start {
				return cut
			}
		}
	}
	// No separator found sub-limit: snap back to the previous whitespace run
	// so the split never lands inside a word.
	for i := limit; i > start; i-- {
		if isWordBoundaryRune(runes[i-1]) {
			return i
		}
	}
	return limit
}

// lastRuneIndex is strings.LastIndex over []rune instead of bytes, since
// snapSplitPoint's offsets index into a []rune, not UTF-8 bytes.
func lastRuneIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func isWordBoundaryRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
