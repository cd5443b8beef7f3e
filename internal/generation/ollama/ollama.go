// Package ollama generates answers with a local Ollama model.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Config configures the Ollama generator.
type Config struct {
	URL         string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client is an Ollama generation backend.
type Client struct {
	client  *api.Client
	model   string
	options map[string]any
}

// NewClient connects to the Ollama server at cfg.URL.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid ollama url %q", domain.ErrConfiguration, cfg.URL)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: ollama generator needs a model", domain.ErrConfiguration)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	options := map[string]any{"temperature": cfg.Temperature}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}
	return &Client{client: api.NewClient(u, httpClient), model: cfg.Model, options: options}, nil
}

// Generate runs a non-streaming completion for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	var b strings.Builder
	err := c.client.Generate(ctx, &api.GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: c.options,
	}, func(resp api.GenerateResponse) error {
		b.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Heartbeat(ctx)
}
