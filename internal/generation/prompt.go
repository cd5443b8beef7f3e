// Package generation holds the answer-generation backends and the guard
// that protects them.
package generation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const instruction = "You answer questions about the user's documents. " +
	"Use only the numbered sources below. " +
	"Cite every source you rely on with its label, for example [1]. " +
	"If the sources do not contain the answer, say that you do not know."

// Source is one labelled context passage in a grounding prompt.
type Source struct {
	Label int
	Name  string
	Text  string
}

var sourceHeader = regexp.MustCompile(`^\[(\d+)\] source: (.*)$`)

// FormatPrompt renders the grounding prompt sent to every backend.
func FormatPrompt(question string, sources []Source) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nSources:\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "\n[%d] source: %s\n%s\n", s.Label, oneLine(s.Name), strings.TrimSpace(s.Text))
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(oneLine(question))
	b.WriteString("\nAnswer:")
	return b.String()
}

// ParsePrompt recovers the question and sources from a prompt produced by
// FormatPrompt. ok is false for any other prompt.
func ParsePrompt(prompt string) (question string, sources []Source, ok bool) {
	body, tail, found := cutLast(prompt, "\nQuestion: ")
	if !found {
		return "", nil, false
	}
	question = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(tail), "Answer:"))

	_, list, found := strings.Cut(body, "\n\nSources:\n")
	if !found {
		return question, nil, true
	}
	var cur *Source
	var text []string
	flush := func() {
		if cur != nil {
			cur.Text = strings.TrimSpace(strings.Join(text, "\n"))
			sources = append(sources, *cur)
		}
		text = text[:0]
	}
	for _, line := range strings.Split(list, "\n") {
		if m := sourceHeader.FindStringSubmatch(line); m != nil {
			flush()
			label, _ := strconv.Atoi(m[1])
			cur = &Source{Label: label, Name: m[2]}
			continue
		}
		text = append(text, line)
	}
	flush()
	return question, sources, true
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func oneLine(s string) string { return strings.Join(strings.Fields(s), " ") }
