package service

import (
	"errors"
	"fmt"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Stage names a step of the query or ingestion pipeline.
type Stage string

// Query stages, in order. Any of them can end in StageFailed.
const (
	StageReceived     Stage = "received"
	StageEmbedding    Stage = "embedding"
	StageRetrieving   Stage = "retrieving"
	StageAssembling   Stage = "assembling"
	StageSynthesizing Stage = "synthesizing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Ingestion and removal stages.
const (
	StageLoading    Stage = "loading"
	StageChunking   Stage = "chunking"
	StageIndexing   Stage = "indexing"
	StageCataloging Stage = "cataloging"
	StageRemoving   Stage = "removing"
)

// Error is returned by every Service operation. Kind classifies Err.
type Error struct {
	Kind  domain.Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(stage Stage, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: domain.KindOf(err), Stage: stage, Err: err}
}

// KindOf returns the kind of a service error, falling back to domain.KindOf.
func KindOf(err error) domain.Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return domain.KindOf(err)
}
