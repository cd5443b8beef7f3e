// Package synthesis produces grounded, cited answers from a context window.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/generation"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/retry"
)

// InsufficientContextMessage is the answer text when nothing relevant was retrieved.
const InsufficientContextMessage = "I could not find anything in the indexed documents that answers this question."

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Options configures a Synthesizer.
type Options struct {
	Timeout time.Duration
	Retry   retry.Policy
	Logger  zerolog.Logger
}

type Synthesizer struct {
	backend domain.GenerationBackend
	timeout time.Duration
	policy  retry.Policy
	log     zerolog.Logger
}

func New(backend domain.GenerationBackend, opts Options) *Synthesizer {
	return &Synthesizer{
		backend: backend,
		timeout: opts.Timeout,
		policy:  opts.Retry,
		log:     opts.Logger.With().Str("component", "synthesizer").Logger(),
	}
}

// Synthesize answers query from window. An empty window yields an
// InsufficientContext answer without calling the backend.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, window domain.ContextWindow) (domain.Answer, error) {
	if window.Empty() {
		return domain.Answer{Text: InsufficientContextMessage, InsufficientContext: true}, nil
	}

	sources := make([]generation.Source, len(window.Items))
	for i, item := range window.Items {
		sources[i] = generation.Source{Label: item.Label, Name: item.Source, Text: item.Chunk.Text}
	}
	prompt := generation.FormatPrompt(query, sources)

	call := func(ctx context.Context) (string, error) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		out, err := s.backend.Generate(ctx, prompt)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", errors.New("backend returned an empty answer")
		}
		return out, nil
	}
	text, err := retry.Do(ctx, s.policy, call, func(err error, attempt int, wait time.Duration) {
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("generation failed, retrying")
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return domain.Answer{}, ctx.Err()
	case errors.Is(err, domain.ErrGenerationBackend):
		return domain.Answer{}, err
	default:
		return domain.Answer{}, fmt.Errorf("%w: %w", domain.ErrGenerationBackend, err)
	}

	text = strings.TrimSpace(text)
	return domain.Answer{Text: text, Citations: Cite(text, window)}, nil
}

// Cite maps the [n] markers in text to window items, in label order.
// Unknown labels are ignored. Text without any known marker cites every item.
func Cite(text string, window domain.ContextWindow) []domain.Citation {
	byLabel := make(map[int]domain.ContextItem, len(window.Items))
	for _, item := range window.Items {
		byLabel[item.Label] = item
	}

	cited := make(map[int]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		label, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, ok := byLabel[label]; ok {
			cited[label] = true
		}
	}

	items := window.Items
	if len(cited) > 0 {
		items = make([]domain.ContextItem, 0, len(cited))
		for label := range cited {
			items = append(items, byLabel[label])
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	}

	out := make([]domain.Citation, len(items))
	for i, item := range items {
		out[i] = domain.Citation{
			Label:      item.Label,
			DocumentID: item.Chunk.DocumentID,
			ChunkID:    item.Chunk.ID,
			Ordinal:    item.Chunk.Ordinal,
			Source:     item.Source,
			Score:      item.Score,
			Text:       item.Chunk.Text,
		}
	}
	return out
}
