package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/pluree/api/internal/config"
	"github.com/pluree/api/internal/training"
)

// StatusClient implements training.StatusPoller against the pipeline's
// status endpoint, which is backed by an Airtable base.
type StatusClient struct {
	httpClient   *http.Client
	statusURL    string
	baseID       string
	tableID      string
	cognitoField string
}

type statusResponse struct {
	Status string `json:"status"`
}

// NewStatusClient creates a new status endpoint client
func NewStatusClient(cfg *config.TrainingConfig) *StatusClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StatusClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		statusURL:    cfg.StatusURL,
		baseID:       cfg.AirtableBaseID,
		tableID:      cfg.AirtableTableID,
		cognitoField: cfg.CognitoField,
	}
}

// Poll queries the status for key once. Any failure yields
// training.StatusUnknown with a *training.TransientPollError.
func (c *StatusClient) Poll(ctx context.Context, key string) (training.PipelineStatus, error) {
	endpoint, err := c.buildURL(key)
	if err != nil {
		return training.StatusUnknown, &training.TransientPollError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return training.StatusUnknown, &training.TransientPollError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	log.Printf("[Status API] → %s %s", req.Method, endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Status API] ✗ %s %s — request failed: %v", req.Method, endpoint, err)
		return training.StatusUnknown, &training.TransientPollError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return training.StatusUnknown, &training.TransientPollError{StatusCode: resp.StatusCode, Err: err}
	}

	log.Printf("[Status API] ← %d %s %s — %s", resp.StatusCode, req.Method, endpoint, string(body))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return training.StatusUnknown, &training.TransientPollError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status API error (status %d)", resp.StatusCode),
		}
	}

	var result statusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return training.StatusUnknown, &training.TransientPollError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to unmarshal response: %w", err),
		}
	}

	return training.NormalizeStatus(result.Status), nil
}

func (c *StatusClient) buildURL(key string) (string, error) {
	u, err := url.Parse(c.statusURL)
	if err != nil {
		return "", fmt.Errorf("invalid status URL: %w", err)
	}

	q := u.Query()
	q.Set("key", key)
	if c.baseID != "" {
		q.Set("base", c.baseID)
	}
	if c.tableID != "" {
		q.Set("table", c.tableID)
	}
	if c.cognitoField != "" {
		q.Set("cognito_field", c.cognitoField)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// IsConfigured returns true if the client has a status endpoint
func (c *StatusClient) IsConfigured() bool {
	return c.statusURL != ""
}
