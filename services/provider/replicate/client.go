package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type ClientConfig struct {
	BaseURL string
	Token   string
	Model   string
}

// Client is the low-level HTTP client for the Replicate predictions API.
type Client struct {
	baseURL string
	token   string
	model   string
	hc      *http.Client
}

func newClient(cfg *ClientConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		model:   cfg.Model,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

type (
	predictionReq struct {
		Version string          `json:"version"`
		Input   predictionInput `json:"input"`

		Webhook             string   `json:"webhook,omitempty"`
		WebhookEventsFilter []string `json:"webhook_events_filter,omitempty"`
	}

	predictionInput struct {
		Image  string `json:"image"`
		Prompt string `json:"prompt,omitempty"`
	}

	predictionResp struct {
		ID          string          `json:"id"`
		Status      string          `json:"status"` // starting, processing, succeeded, failed, canceled
		Output      json.RawMessage `json:"output,omitempty"`
		Error       string          `json:"error,omitempty"`
		CompletedAt string          `json:"completed_at,omitempty"`
	}
)

// createPrediction submits a new prediction and returns its id.
func (c *Client) createPrediction(ctx context.Context, imageURL, prompt, webhookURL string) (string, error) {
	body, err := json.Marshal(predictionReq{
		Version: c.model,
		Input:   predictionInput{Image: imageURL, Prompt: prompt},
		Webhook: webhookURL,
		WebhookEventsFilter: []string{"completed"},
	})
	if err != nil {
		return "", fmt.Errorf("createPrediction: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("createPrediction: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("createPrediction: hc.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("createPrediction: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply predictionResp
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("createPrediction: json.Decode: %w", err)
	}

	return reply.ID, nil
}

// getPrediction fetches the current state of a prediction.
func (c *Client) getPrediction(ctx context.Context, id string) (*predictionResp, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("getPrediction: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getPrediction: hc.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("getPrediction: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply predictionResp
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("getPrediction: json.Decode: %w", err)
	}

	return &reply, nil
}
