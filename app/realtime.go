package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RealtimeClient provisions ephemeral realtime voice sessions from the
// external provider. Implements VoiceProvisioner.
type RealtimeClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

func NewRealtimeClient(baseURL, apiKey, model string) *RealtimeClient {
	return &RealtimeClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *RealtimeClient) ProvisionSession(ctx context.Context, maxSeconds int) (string, int64, error) {
	body, err := json.Marshal(map[string]any{
		"model":                c.Model,
		"max_duration_seconds": maxSeconds,
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", 0, readAPIError(res)
	}

	var out struct {
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"` // unix seconds
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	if out.ClientSecret.Value == "" {
		return "", 0, fmt.Errorf("realtime api returned empty client secret")
	}
	return out.ClientSecret.Value, out.ClientSecret.ExpiresAt * 1000, nil
}
