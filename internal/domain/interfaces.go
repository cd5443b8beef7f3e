package domain

import (
	"context"
	"time"
	"unicode/utf8"
)

// Document is a source document as handed to the ingestion path.
// Content holds the raw bytes and is never modified after construction.
type Document struct {
	ID          string
	Source      string
	ContentType string
	Content     []byte
	IngestedAt  time.Time
}

// Section marks a structural boundary detected in extracted text.
type Section struct {
	Heading string
	Offset  int
}

// Extracted is the normalized text produced by the loader.
type Extracted struct {
	Text        string
	Title       string
	ContentType string
	Sections    []Section
	Truncated   bool
}

// Chunk is a contiguous span of a document's normalized text used for indexing.
// Text[Overlap:] is the part not shared with the previous chunk.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	Start      int
	End        int
	Overlap    int
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int { return utf8.RuneCountInString(c.Text) }

// Fresh returns the part of the chunk that does not repeat the previous chunk.
func (c Chunk) Fresh() string { return c.Text[c.Overlap:] }

// Vector is an embedding tagged with the model that produced it.
type Vector struct {
	Model  string
	Values []float32
}

// Dimension returns the vector length.
func (v Vector) Dimension() int { return len(v.Values) }

// Entry is one indexed chunk.
type Entry struct {
	Chunk  Chunk
	Vector Vector
	Source string
	Seq    uint64
}

// ScoredChunk is a chunk matching a query with its similarity score.
type ScoredChunk struct {
	Chunk  Chunk
	Source string
	Score  float64
	Seq    uint64
}

// ContextItem is a chunk selected for the prompt, labelled for citation.
type ContextItem struct {
	Label  int
	Chunk  Chunk
	Source string
	Score  float64
}

// ContextWindow is the ordered set of chunks handed to the synthesizer.
type ContextWindow struct {
	Items  []ContextItem
	Budget int
	Used   int
	Unit   string
}

// Empty reports whether the window carries no context at all.
func (w ContextWindow) Empty() bool { return len(w.Items) == 0 }

// Citation references a context chunk the answer relies on.
type Citation struct {
	Label      int     `json:"label"`
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Ordinal    int     `json:"ordinal"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// Answer is the result of one query.
type Answer struct {
	Text                string        `json:"answer"`
	Citations           []Citation    `json:"citations"`
	InsufficientContext bool          `json:"insufficient_context"`
	Latency             time.Duration `json:"latency"`
	Cached              bool          `json:"cached"`
}

// EmbeddingBackend maps texts to vectors with the given model.
type EmbeddingBackend interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// GenerationBackend produces text for a prompt.
type GenerationBackend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
