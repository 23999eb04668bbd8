// Package classifier is the client for the external crosswalk image
// classifier, a sidecar model service invoked per frame. It has no
// coordination semantics; a failed prediction surfaces to the requesting
// session only.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 20 * time.Second

// Client calls the classifier sidecar over HTTP.
type Client struct {
	baseURL    string // empty = not configured
	httpClient *http.Client
}

// New creates a classifier client. baseURL may be empty; Predict then fails
// with a configuration error.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a classifier endpoint is set.
func (c *Client) Configured() bool { return c.baseURL != "" }

type predictRequest struct {
	Image string `json:"image"`
}

type predictResponse struct {
	IsCrosswalk bool    `json:"is_crosswalk"`
	Confidence  float64 `json:"confidence"`
}

// Predict submits a base64 data-URL frame and reports whether the model saw
// a crosswalk.
func (c *Client) Predict(ctx context.Context, imageDataURL string) (bool, error) {
	if !c.Configured() {
		return false, fmt.Errorf("classifier: no endpoint configured")
	}

	body, err := json.Marshal(predictRequest{Image: imageDataURL})
	if err != nil {
		return false, fmt.Errorf("classifier: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("classifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("classifier: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("classifier: unexpected status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("classifier: decode response: %w", err)
	}
	return out.IsCrosswalk, nil
}
