package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crablduck/crm-spyder/internal/config"
	"github.com/crablduck/crm-spyder/internal/ports"
)

// ChatGPTEnricher implements ports.Enricher backed by OpenAI-compatible
// APIs: given raw announcement text it returns a structured guess of
// software/hardware facts. Strictly advisory; the deterministic
// pipeline runs fully without it.
type ChatGPTEnricher struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Enricher = (*ChatGPTEnricher)(nil)

// NewChatGPTEnricher builds a client from configuration.
func NewChatGPTEnricher(cfg config.ChatGPTConfig) *ChatGPTEnricher {
	return &ChatGPTEnricher{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// Enrich posts the announcement text and returns the model's guess.
func (c *ChatGPTEnricher) Enrich(ctx context.Context, text string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("enricher is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("enricher misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal enrichment payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("enrich request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("enrichment error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode enrichment response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("enrichment response has no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You extract software and hardware system facts from procurement announcements."
	}
	return prompt
}
