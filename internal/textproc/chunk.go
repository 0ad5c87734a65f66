// Package textproc prepares contract and law text for embedding: PII
// redaction first, then deterministic chunking.
package textproc

import (
	"strings"
)

// Chunker splits long documents into embedding-sized pieces. Splitting is
// deterministic: the same input always yields the same chunks, so chunk ids
// derived from positions stay stable across runs.
type Chunker struct {
	maxTokens int
}

// NewChunker returns a Chunker with the given token budget per chunk.
// Budgets below one fall back to a single unsplit chunk.
func NewChunker(maxTokens int) *Chunker {
	return &Chunker{maxTokens: maxTokens}
}

// Chunk splits text on paragraph boundaries, packing consecutive paragraphs
// while they fit the token budget. A single paragraph over budget is split
// further on sentence boundaries. Empty or whitespace-only input yields no
// chunks.
func (c *Chunker) Chunk(text string) []string {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil
	}
	if c.maxTokens <= 0 || CountTokens(cleaned) <= c.maxTokens {
		return []string{cleaned}
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(current.String()))
		current.Reset()
		currentTokens = 0
	}

	for _, para := range splitParagraphs(cleaned) {
		paraTokens := CountTokens(para)
		if paraTokens > c.maxTokens {
			flush()
			chunks = append(chunks, c.splitOversized(para)...)
			continue
		}
		if currentTokens+paraTokens > c.maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}
	flush()

	return chunks
}

// splitOversized handles a single paragraph beyond the token budget by
// packing sentences. A single sentence over budget is emitted as-is rather
// than cut mid-word.
func (c *Chunker) splitOversized(para string) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(current.String()))
		current.Reset()
		currentTokens = 0
	}

	for _, sentence := range splitSentences(para) {
		tokens := CountTokens(sentence)
		if currentTokens+tokens > c.maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
		currentTokens += tokens
	}
	flush()

	return chunks
}

// CountTokens approximates token count by whitespace-separated fields.
// That undercounts subword tokenizers, which the caller's budget absorbs.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(normalized, "\n\n")
	paras := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Sentence ends only if followed by whitespace or end of text.
		// Keeps "Art. 17" and "u.a." together often enough in practice.
		if i+1 < len(runes) && runes[i+1] != ' ' && runes[i+1] != '\n' && runes[i+1] != '\t' {
			continue
		}
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
