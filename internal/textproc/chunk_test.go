package textproc

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestChunkShortTextSingleChunk(t *testing.T) {
	t.Parallel()

	c := NewChunker(100)
	got := c.Chunk("  A short clause about liability.  ")
	want := []string{"A short clause about liability."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunks = %v, want %v", got, want)
	}
}

func TestChunkEmptyText(t *testing.T) {
	t.Parallel()

	c := NewChunker(100)
	if got := c.Chunk(" \n\t "); got != nil {
		t.Fatalf("chunks = %v, want nil", got)
	}
}

func TestChunkPacksParagraphs(t *testing.T) {
	t.Parallel()

	para := func(n, words int) string {
		fields := make([]string, words)
		for i := range fields {
			fields[i] = fmt.Sprintf("p%dw%d", n, i)
		}
		return strings.Join(fields, " ")
	}
	text := para(1, 4) + "\n\n" + para(2, 4) + "\n\n" + para(3, 4)

	c := NewChunker(9)
	got := c.Chunk(text)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(got), got)
	}
	if !strings.Contains(got[0], "p1w0") || !strings.Contains(got[0], "p2w0") {
		t.Fatalf("first chunk should pack paragraphs 1 and 2: %q", got[0])
	}
	if !strings.Contains(got[1], "p3w0") {
		t.Fatalf("second chunk should hold paragraph 3: %q", got[1])
	}
}

func TestChunkSplitsOversizedParagraphOnSentences(t *testing.T) {
	t.Parallel()

	text := "First sentence here now. Second sentence here now. Third sentence here now."
	c := NewChunker(8)
	got := c.Chunk(text)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(got), got)
	}
	for _, chunk := range got {
		if CountTokens(chunk) > 8 {
			t.Fatalf("chunk over budget: %q", chunk)
		}
	}
}

func TestChunkDeterministic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("Clause one applies. Clause two applies. ", 40)
	c := NewChunker(16)
	first := c.Chunk(text)
	second := c.Chunk(text)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("chunking is not deterministic")
	}
}
