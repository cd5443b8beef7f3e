package assembler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

func result(id, text string, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{Chunk: domain.Chunk{ID: id, DocumentID: "doc", Text: text}, Source: "doc.txt", Score: score}
}

func TestAssemble_PrefixWithinBudget(t *testing.T) {
	a, err := New(10, Chars)
	require.NoError(t, err)

	w := a.Assemble([]domain.ScoredChunk{
		result("doc:0", "abcd", 0.9),
		result("doc:1", "efgh", 0.8),
		result("doc:2", "ijkl", 0.7),
		result("doc:3", "m", 0.6),
	})
	require.Len(t, w.Items, 2)
	assert.Equal(t, 1, w.Items[0].Label)
	assert.Equal(t, 2, w.Items[1].Label)
	assert.Equal(t, "doc:1", w.Items[1].Chunk.ID)
	assert.Equal(t, "doc.txt", w.Items[1].Source)
	assert.Equal(t, 8, w.Used)
	assert.Equal(t, 10, w.Budget)
	assert.False(t, w.Empty())
}

func TestAssemble_Empty(t *testing.T) {
	a, err := New(5, Chars)
	require.NoError(t, err)

	assert.True(t, a.Assemble(nil).Empty())
	assert.True(t, a.Assemble([]domain.ScoredChunk{result("doc:0", "far too long", 1), result("doc:1", "ok", 0.5)}).Empty())
}

func TestMeasure(t *testing.T) {
	chars, err := New(100, Chars)
	require.NoError(t, err)
	assert.Equal(t, 4, chars.Measure("café"))

	tokens, err := New(100, Tokens)
	require.NoError(t, err)
	assert.Equal(t, 4, tokens.Measure("one two three"))
	assert.Equal(t, 2, tokens.Measure("one"))
	assert.Equal(t, 0, tokens.Measure("   "))
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(0, Chars)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = New(10, "bytes")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
