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
)

// CacheClient implements training.CachePrimer. It warms the persona's LLM
// context cache once the transcript is available.
type CacheClient struct {
	httpClient *http.Client
	cfg        config.CachePrimeConfig
}

// PrimeCacheRequest is the body of a cache priming call
type PrimeCacheRequest struct {
	LLM              string `json:"llm"`
	LLMModel         string `json:"llm_model"`
	UserID           string `json:"user_id"`
	SystemPrompt     string `json:"system_prompt"`
	TTLMinutes       int    `json:"ttl_minutes"`
	CacheDisplayName string `json:"cache_display_name"`
}

// NewCacheClient creates a new cache priming client
func NewCacheClient(cfg *config.CachePrimeConfig) *CacheClient {
	return &CacheClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		cfg: *cfg,
	}
}

// Prime posts a cache priming request for the persona identified by key.
// The endpoint takes no API key.
func (c *CacheClient) Prime(ctx context.Context, key string) error {
	body, err := json.Marshal(PrimeCacheRequest{
		LLM:              c.cfg.LLM,
		LLMModel:         c.cfg.LLMModel,
		UserID:           key,
		SystemPrompt:     c.cfg.SystemPrompt,
		TTLMinutes:       c.cfg.TTLMinutes,
		CacheDisplayName: c.cfg.DisplayName,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[Cache API] → %s %s (user=%s)", req.Method, c.cfg.URL, key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Cache API] ✗ %s %s — request failed: %v", req.Method, c.cfg.URL, err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	log.Printf("[Cache API] ← %d %s %s — %s", resp.StatusCode, req.Method, c.cfg.URL, string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cache API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// IsConfigured returns true if a cache priming endpoint is set
func (c *CacheClient) IsConfigured() bool {
	return c.cfg.URL != ""
}
