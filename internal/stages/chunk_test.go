package stages

import (
	"strings"
	"testing"
)

func TestChunk_Empty(t *testing.T) {
	if chunks := Chunk("", ChunkConfig{Size: 100}); chunks != nil {
		t.Fatalf("expected nil chunks for empty input, got %v", chunks)
	}
	if chunks := Chunk("   \n\t  ", ChunkConfig{Size: 100}); chunks != nil {
		t.Fatalf("expected nil chunks for whitespace-only input, got %v", chunks)
	}
}

func TestChunk_NoEmptyChunksAndUnderSizeLast(t *testing.T) {
	text := strings.Repeat("word ", 50) // 250 runes
	chunks := Chunk(text, ChunkConfig{Size: 100, Overlap: 0})
	if len(chunks) == 0 {
		t.Fatalf("expected at least one chunk")
	}
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Fatalf("chunk %d is empty", i)
		}
		if len([]rune(c)) > 100+10 {
			// small slack allowed for separator snapping
			t.Fatalf("chunk %d exceeds size bound: %d runes", i, len([]rune(c)))
		}
	}
}

func TestChunk_WordBoundarySnapping(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	chunks := Chunk(text, ChunkConfig{Size: 12, Overlap: 0, Separators: []string{" "}})
	// Every chunk must end on a full word from the source text — snapSplitPoint
	// backs up to the previous whitespace run rather than cutting mid-word.
	for _, c := range chunks {
		trimmed := strings.TrimRight(c, " ")
		if trimmed == "" {
			continue
		}
		lastWord := trimmed
		if idx := strings.LastIndexByte(trimmed, ' '); idx >= 0 {
			lastWord = trimmed[idx+1:]
		}
		if !strings.Contains(text, " "+lastWord+" ") && !strings.HasSuffix(text, lastWord) && !strings.HasPrefix(text, lastWord+" ") {
			t.Fatalf("chunk ends mid-word: %q (last word %q)", c, lastWord)
		}
	}
}

func TestChunk_Overlap(t *testing.T) {
	text := strings.Repeat("ab ", 100)
	chunks := Chunk(text, ChunkConfig{Size: 20, Overlap: 5, Separators: []string{" "}})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
}

// TestChunk_MultiByteRunesDoNotOvershoot guards against conflating byte
// offsets with rune offsets when snapping to a separator: every multi-byte
// rune before the matched separator used to push the cut point further right
// than the rune index it was added to, eventually slicing past len(runes).
func TestChunk_MultiByteRunesDoNotOvershoot(t *testing.T) {
	word := "café日本語test "
	text := strings.Repeat(word, 80)
	runeLen := len([]rune(text))

	chunks := Chunk(text, ChunkConfig{Size: 30, Overlap: 0, Separators: []string{" "}})
	if len(chunks) == 0 {
		t.Fatalf("expected at least one chunk")
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 30+10 {
			t.Fatalf("chunk %d exceeds size bound: %d runes (%q)", i, n, c)
		}
	}
	var rebuilt int
	for _, c := range chunks {
		rebuilt += len([]rune(strings.TrimSpace(c)))
	}
	if rebuilt == 0 || rebuilt > runeLen {
		t.Fatalf("reconstructed rune count %d is inconsistent with input length %d", rebuilt, runeLen)
	}
}
