// Package openai adapts the OpenAI chat API to the planner's provider
// contract.
package openai

import (
	"context"
	"fmt"
	"log"

	goopenai "github.com/sashabaranov/go-openai"
)

// Provider generates completions through the OpenAI API (or any compatible
// endpoint via BaseURL).
type Provider struct {
	client *goopenai.Client
	logger *log.Logger
}

// New creates a provider. An empty baseURL uses the public API.
func New(apiKey, baseURL string, logger *log.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai provider needs an api key")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[OPENAI] ", log.LstdFlags)
	}
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Provider{client: goopenai.NewClientWithConfig(cfg), logger: logger}, nil
}

// Generate runs one chat completion and returns the raw text.
func (p *Provider) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if t, ok := options["temperature"].(float64); ok {
		req.Temperature = float32(t)
	}
	if m, ok := options["max_tokens"].(int); ok {
		req.MaxTokens = m
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
