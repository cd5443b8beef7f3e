// Package extractive answers questions offline by quoting the source
// sentences that best match the question.
package extractive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/embedding/hashing"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/generation"
)

// NoAnswer is returned when no source sentence shares a term with the question.
const NoAnswer = "I could not find an answer to that in the provided documents."

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Generator ranks source sentences by question-term overlap, weighted by
// term frequency across the sources (stopwords filtered).
type Generator struct {
	maxSentences int
}

// NewGenerator creates an extractive generator that quotes up to maxSentences.
func NewGenerator(maxSentences int) *Generator {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Generator{maxSentences: maxSentences}
}

type sentence struct {
	label int
	pos   int
	text  string
	toks  []string
	score float64
}

// Generate answers the question embedded in prompt from the prompt's sources.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	question, sources, ok := generation.ParsePrompt(prompt)
	if !ok {
		return "", errors.New("extractive generator: prompt has no question")
	}

	terms := map[string]struct{}{}
	for _, tok := range hashing.Tokenize(question) {
		if !hashing.IsStopword(tok) {
			terms[tok] = struct{}{}
		}
	}
	if len(terms) == 0 {
		return NoAnswer, nil
	}

	var sentences []sentence
	freq := map[string]float64{}
	for _, src := range sources {
		for _, text := range splitSentences(src.Text) {
			toks := hashing.Tokenize(text)
			for _, tok := range toks {
				if !hashing.IsStopword(tok) {
					freq[tok]++
				}
			}
			sentences = append(sentences, sentence{label: src.Label, pos: len(sentences), text: text, toks: toks})
		}
	}
	// Normalize frequencies
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	var ranked []sentence
	for _, s := range sentences {
		matched := map[string]struct{}{}
		weight := 0.0
		for _, tok := range s.toks {
			if _, ok := terms[tok]; !ok {
				continue
			}
			if _, seen := matched[tok]; !seen {
				matched[tok] = struct{}{}
				weight += freq[tok] / maxF
			}
		}
		if len(matched) == 0 {
			continue
		}
		// Distinct question terms dominate; frequency breaks ties, normalized
		// by sentence length to avoid bias toward long sentences.
		s.score = float64(len(matched)) + weight/math.Sqrt(float64(len(s.toks)))
		ranked = append(ranked, s)
	}
	if len(ranked) == 0 {
		return NoAnswer, nil
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > g.maxSentences {
		ranked = ranked[:g.maxSentences]
	}
	// Keep original order among selected
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].pos < ranked[j].pos })

	parts := make([]string, len(ranked))
	for i, s := range ranked {
		parts[i] = fmt.Sprintf("%s [%d]", s.text, s.label)
	}
	return strings.Join(parts, " "), nil
}

func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentencePattern.FindAllStringIndex(text, -1) {
		if s := strings.Join(strings.Fields(text[loc[0]:loc[1]]), " "); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if rest := strings.Join(strings.Fields(text[last:]), " "); rest != "" {
		out = append(out, rest)
	}
	return out
}
