// Package ollama embeds text with a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Client is an Ollama embeddings backend.
type Client struct {
	client *api.Client
}

// NewClient connects to the Ollama server at rawURL.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid ollama url %q", domain.ErrConfiguration, rawURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{client: api.NewClient(u, httpClient)}, nil
}

// Embed returns one embedding per text using the /api/embed endpoint.
func (c *Client) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := c.client.Embed(ctx, &api.EmbedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	return resp.Embeddings, nil
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Heartbeat(ctx)
}
