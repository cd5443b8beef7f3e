package domain

import (
	"context"
	"errors"
)

// Sentinel errors for the pipeline. Wrap them with fmt.Errorf and %w.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtraction        = errors.New("extraction failed")
	ErrEmptyInput        = errors.New("empty input")
	ErrEmbeddingBackend  = errors.New("embedding backend error")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrIndexCorruption   = errors.New("index corruption")
	ErrGenerationBackend = errors.New("generation backend error")
	ErrConfiguration     = errors.New("configuration error")
)

// Kind is the external name of an error class.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindExtraction        Kind = "extraction_error"
	KindEmptyInput        Kind = "empty_input"
	KindEmbeddingBackend  Kind = "embedding_backend_error"
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindIndexCorruption   Kind = "index_corruption"
	KindGenerationBackend Kind = "generation_backend_error"
	KindConfiguration     Kind = "configuration_error"
	KindCanceled          Kind = "canceled"
	KindDeadline          Kind = "deadline_exceeded"
	KindInternal          Kind = "internal_error"
)

// Order matters: a dimension mismatch surfaced through the embedder is also
// wrapped as a backend error by some callers, and the narrower kind wins.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrIndexCorruption, KindIndexCorruption},
	{ErrConfiguration, KindConfiguration},
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrExtraction, KindExtraction},
	{ErrEmptyInput, KindEmptyInput},
	{ErrEmbeddingBackend, KindEmbeddingBackend},
	{ErrGenerationBackend, KindGenerationBackend},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadline
	}
	return KindInternal
}

// IsPermanent reports whether retrying err can never help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrEmptyInput)
}
