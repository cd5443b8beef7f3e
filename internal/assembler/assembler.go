// Package assembler fits retrieved chunks into a bounded context window.
package assembler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Budget units.
const (
	Chars  = "chars"
	Tokens = "tokens"
)

type Assembler struct {
	budget int
	unit   string
}

// New returns an assembler with the given budget. unit is Chars or Tokens.
func New(budget int, unit string) (*Assembler, error) {
	switch unit {
	case "":
		unit = Chars
	case Chars, Tokens:
	default:
		return nil, fmt.Errorf("%w: unknown budget unit %q", domain.ErrConfiguration, unit)
	}
	if budget <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive, got %d", domain.ErrConfiguration, budget)
	}
	return &Assembler{budget: budget, unit: unit}, nil
}

// Assemble takes the longest prefix of results that fits the budget,
// labelling items [1], [2], ... in rank order. Chunks are never split; the
// first chunk that does not fit ends the window.
func (a *Assembler) Assemble(results []domain.ScoredChunk) domain.ContextWindow {
	w := domain.ContextWindow{Budget: a.budget, Unit: a.unit}
	for _, r := range results {
		size := a.Measure(r.Chunk.Text)
		if w.Used+size > a.budget {
			break
		}
		w.Used += size
		w.Items = append(w.Items, domain.ContextItem{
			Label:  len(w.Items) + 1,
			Chunk:  r.Chunk,
			Source: r.Source,
			Score:  r.Score,
		})
	}
	return w
}

// Measure returns the size of text in the assembler's unit. Tokens are
// estimated as four per three words, rounded up.
func (a *Assembler) Measure(text string) int {
	if a.unit == Tokens {
		words := len(strings.Fields(text))
		return (words*4 + 2) / 3
	}
	return utf8.RuneCountInString(text)
}
