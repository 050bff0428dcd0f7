package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pluree/api/internal/config"
	"github.com/pluree/api/internal/training"
)

// APIKeyHeader carries the shared secret expected by the scenario webhooks.
const APIKeyHeader = "x-make-apikey"

// WebhookClient implements training.WebhookInvoker for Make.com scenario
// webhooks. Every call is a single POST; nothing is retried.
type WebhookClient struct {
	httpClient *http.Client
	apiKey     string
}

// NewWebhookClient creates a new webhook client
func NewWebhookClient(cfg *config.TrainingConfig) *WebhookClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		apiKey: cfg.APIKey,
	}
}

// Invoke posts payload to url. Transport failures and non-2xx responses
// come back as *training.WebhookError.
func (c *WebhookClient) Invoke(ctx context.Context, stage training.Stage, url string, payload training.TriggerPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &training.WebhookError{Stage: stage, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	log.Printf("[Make Webhook] → %s %s (stage=%s key=%s)", req.Method, url, stage, payload.Key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Make Webhook] ✗ %s %s — request failed: %v", req.Method, url, err)
		return &training.WebhookError{Stage: stage, URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	log.Printf("[Make Webhook] ← %d %s %s — %s", resp.StatusCode, req.Method, url, string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &training.WebhookError{
			Stage:      stage,
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, string(respBody)),
		}
	}

	return nil
}
