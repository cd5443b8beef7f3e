package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// Config configures the Gemini generator.
type Config struct {
	APIKeyEnv   string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client generates answers with the Gemini API.
type Client struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewClient creates a client with the API key read from cfg.APIKeyEnv.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, cfg.APIKeyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %w", domain.ErrConfiguration, err)
	}
	config := &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(cfg.Temperature))}
	if cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	return &Client{client: client, model: cfg.Model, config: config}, nil
}

// Generate returns the model's text response to prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", errors.New("gemini generate: empty response")
	}
	return text, nil
}
