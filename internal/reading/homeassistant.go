// Package reading acquires the current meter reading from Home Assistant.
package reading

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Feberdin/ha-wallbox-billing/internal/config"
)

// HASource reads entity states from the Home Assistant HTTP API
type HASource struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHASource creates a state source for the configured Home Assistant instance
func NewHASource(cfg config.HAConfig) *HASource {
	return &HASource{
		baseURL: cfg.URL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// haState matches the Home Assistant /api/states/<entity_id> response
type haState struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

// State returns the raw state string of an entity. Home Assistant reports
// missing sensors as 404 and unready ones with the literal states "unknown"
// or "unavailable"; classifying those is the caller's concern.
func (s *HASource) State(ctx context.Context, entityID string) (string, error) {
	apiURL := fmt.Sprintf("%s/api/states/%s", s.baseURL, url.PathEscape(entityID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("entity %s not found", entityID)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	var state haState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return "", fmt.Errorf("decoding state: %w", err)
	}

	return state.State, nil
}
