package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/crablduck/crm-spyder/internal/ports"
)

// Client talks to an external OCR service to recognize captcha images.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.CaptchaSolver = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Solve submits the image for recognition and returns the guessed token.
// One recognition attempt per call; the orchestrator owns the budget.
func (c *Client) Solve(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty captcha image")
	}

	payload := map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := c.post(ctx, payload, &resp); err != nil {
		return "", err
	}

	token := strings.TrimSpace(resp.Text)
	if token == "" {
		return "", fmt.Errorf("ocr returned empty token")
	}
	return token, nil
}

func (c *Client) post(ctx context.Context, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
