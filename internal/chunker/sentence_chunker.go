package chunker

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// SentenceChunker splits text into chunks of roughly chunkSize characters
// that end on sentence boundaries where possible and overlap their predecessor.
// Every chunk is an exact slice of the input.
type SentenceChunker struct {
	chunkSize int
	overlap   float64
}

func NewSentenceChunker(chunkSize int, overlap float64) *SentenceChunker {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= 0.5 {
		overlap = 0.49
	}
	return &SentenceChunker{chunkSize: chunkSize, overlap: overlap}
}

// Chunk splits text belonging to documentID.
func (c *SentenceChunker) Chunk(documentID, text string) ([]domain.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("chunk %s: %w", documentID, domain.ErrEmptyInput)
	}

	// offsets[i] is the byte offset of rune i; offsets[n] == len(text).
	runes := make([]rune, 0, len(text))
	offsets := make([]int, 0, len(text)+1)
	for i, r := range text {
		runes = append(runes, r)
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))
	n := len(runes)

	var chunks []domain.Chunk
	start, prevEnd := 0, 0
	for ordinal := 0; ; ordinal++ {
		end := n
		if n-start > c.chunkSize {
			lo := start + c.chunkSize/2
			if lo <= prevEnd {
				lo = prevEnd + 1
			}
			end = cut(runes, lo, start+c.chunkSize)
		}
		chunks = append(chunks, domain.Chunk{
			ID:         documentID + ":" + strconv.Itoa(ordinal),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       text[offsets[start]:offsets[end]],
			Start:      offsets[start],
			End:        offsets[end],
			Overlap:    offsets[prevEnd] - offsets[start],
		})
		if end >= n {
			break
		}
		prevEnd = end
		start = c.nextStart(runes, start, end)
	}
	return chunks, nil
}

// cut picks the chunk end in [lo, hi]: the last sentence end, else the last
// word start, else hi.
func cut(runes []rune, lo, hi int) int {
	if lo > hi {
		return hi
	}
	for p := hi; p >= lo; p-- {
		if sentenceEnd(runes, p) {
			return p
		}
	}
	for p := hi; p >= lo; p-- {
		if wordStart(runes, p) {
			return p
		}
	}
	return hi
}

// nextStart places the following chunk so that it repeats about overlap of
// the current one, snapped to the nearest sentence or word start.
func (c *SentenceChunker) nextStart(runes []rune, start, end int) int {
	ovl := int(math.Round(c.overlap * float64(end-start)))
	if ovl == 0 {
		return end
	}
	// The next chunk must reach past end, so it cannot start at or before
	// end-chunkSize.
	lo := max(start+1, end-2*ovl, end-c.chunkSize+1)
	desired := max(end-ovl, lo)
	if p, ok := nearest(lo, end-1, desired, func(p int) bool { return sentenceStart(runes, p) }); ok {
		return p
	}
	if p, ok := nearest(lo, end-1, desired, func(p int) bool { return wordStart(runes, p) }); ok {
		return p
	}
	return desired
}

func nearest(lo, hi, target int, match func(int) bool) (int, bool) {
	best, found := 0, false
	for p := lo; p <= hi; p++ {
		if !match(p) {
			continue
		}
		if !found || abs(p-target) < abs(best-target) {
			best, found = p, true
		}
	}
	return best, found
}

// sentenceEnd reports whether a sentence finishes right before position p.
func sentenceEnd(runes []rune, p int) bool {
	if p <= 0 || p > len(runes) {
		return false
	}
	if runes[p-1] == '\n' {
		return true
	}
	if p < len(runes) && !unicode.IsSpace(runes[p]) {
		return false
	}
	q := p - 1
	for q > 0 && isCloser(runes[q]) {
		q--
	}
	return isTerminator(runes[q])
}

// sentenceStart reports whether a sentence begins at position p.
func sentenceStart(runes []rune, p int) bool {
	if p <= 0 || p >= len(runes) || unicode.IsSpace(runes[p]) {
		return false
	}
	q := p
	for q > 0 && unicode.IsSpace(runes[q-1]) && runes[q-1] != '\n' {
		q--
	}
	return sentenceEnd(runes, q)
}

func wordStart(runes []rune, p int) bool {
	return p > 0 && p < len(runes) && !unicode.IsSpace(runes[p]) && unicode.IsSpace(runes[p-1])
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
