package qdrant

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/vectorstore"
)

func TestPointID_StablePerChunk(t *testing.T) {
	a := pointID("doc:0").GetUuid()
	assert.Equal(t, a, pointID("doc:0").GetUuid())
	assert.NotEqual(t, a, pointID("doc:1").GetUuid())
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestPayloadCarriesChunkAndSeq(t *testing.T) {
	e := domain.Entry{
		Chunk:  domain.Chunk{ID: "doc:2", DocumentID: "doc", Ordinal: 2, Text: "The sky is blue.", Start: 40, End: 56, Overlap: 4},
		Vector: domain.Vector{Model: "m", Values: []float32{1, 0}},
		Source: "sky.txt",
	}
	p := toPoint(e, 77)
	assert.Equal(t, "m", p.GetPayload()[fieldModel].GetStringValue())

	got := fromPayload(p.GetPayload(), 0.5)
	assert.Equal(t, e.Chunk, got.Chunk)
	assert.Equal(t, "sky.txt", got.Source)
	assert.Equal(t, uint64(77), got.Seq)
	assert.Equal(t, 0.5, got.Score)
}

func TestNewStorage_RejectsBadURL(t *testing.T) {
	tests := []string{"", "://nope", "http://localhost:port"}
	for _, raw := range tests {
		_, err := NewStorage(t.Context(), Config{URL: raw}, vectorstore.Options{Model: "m"}, zerolog.Nop())
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, domain.ErrConfiguration, raw)
	}
}
