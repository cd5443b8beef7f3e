package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

func reconstruct(chunks []domain.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Fresh())
	}
	return b.String()
}

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Sentence number %02d is here.", i)
	}
	return b.String()
}

func TestChunk_ShortTextIsOneChunk(t *testing.T) {
	text := "The sky is blue. Water is wet."
	chunks, err := NewSentenceChunker(500, 0.15).Chunk("doc", text)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "doc:0", c.ID)
	assert.Equal(t, "doc", c.DocumentID)
	assert.Equal(t, 0, c.Ordinal)
	assert.Equal(t, text, c.Text)
	assert.Equal(t, 0, c.Start)
	assert.Equal(t, len(text), c.End)
	assert.Zero(t, c.Overlap)
}

func TestChunk_EmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t\n"} {
		_, err := NewSentenceChunker(100, 0.1).Chunk("doc", text)
		assert.ErrorIs(t, err, domain.ErrEmptyInput)
	}
}

func TestChunk_Reconstructs(t *testing.T) {
	long := sentences(80)
	noBoundaries := strings.Repeat("x", 1234)
	unicodeText := strings.Repeat("Größe über Straße! 東京は大きい。 Ça va? ", 40)
	lines := strings.Repeat("line of text without a stop\n", 60)

	tests := []struct {
		name    string
		text    string
		size    int
		overlap float64
	}{
		{"sentences no overlap", long, 200, 0},
		{"sentences overlap", long, 200, 0.15},
		{"sentences heavy overlap", long, 120, 0.45},
		{"hard cuts", noBoundaries, 100, 0.2},
		{"multibyte", unicodeText, 90, 0.2},
		{"newlines", lines, 150, 0.1},
		{"tiny size", long, 3, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := NewSentenceChunker(tt.size, tt.overlap).Chunk("d", tt.text)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			assert.Equal(t, tt.text, reconstruct(chunks))
			for i, c := range chunks {
				assert.Equal(t, i, c.Ordinal)
				assert.LessOrEqual(t, c.Len(), tt.size)
				assert.True(t, utf8.ValidString(c.Text))
				assert.Equal(t, tt.text[c.Start:c.End], c.Text)
				if i > 0 {
					prev := chunks[i-1]
					assert.Equal(t, prev.End-c.Start, c.Overlap)
					assert.Greater(t, c.Start, prev.Start)
					assert.Greater(t, c.End, prev.End)
				}
			}
			assert.Equal(t, len(tt.text), chunks[len(chunks)-1].End)
		})
	}
}

func TestChunk_OverlapsSnapToSentences(t *testing.T) {
	text := sentences(40)
	chunks, err := NewSentenceChunker(200, 0.15).Chunk("d", text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for i, c := range chunks {
		if i < len(chunks)-1 {
			assert.True(t, strings.HasSuffix(c.Text, "."), "chunk %d should end a sentence: %q", i, c.Text)
		}
		if i > 0 {
			assert.Positive(t, c.Overlap, "chunk %d should overlap", i)
			assert.True(t, strings.HasPrefix(c.Text, "Sentence"), "chunk %d should start a sentence: %q", i, c.Text)
		}
	}
}

func TestChunk_NoOverlapMeansContiguous(t *testing.T) {
	chunks, err := NewSentenceChunker(100, 0).Chunk("d", sentences(20))
	require.NoError(t, err)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].End, chunks[i].Start)
		assert.Zero(t, chunks[i].Overlap)
	}
}
