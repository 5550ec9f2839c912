package dashscope

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
	APIKey  string
}

// Client is the low-level HTTP client for the Dashscope vision API.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

func newClient(cfg *ClientConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

type (
	taskReq struct {
		Model string    `json:"model"`
		Input taskInput `json:"input"`
	}

	taskInput struct {
		ImageURL string `json:"image_url"`
		Prompt   string `json:"prompt,omitempty"`
	}

	taskResp struct {
		Output struct {
			TaskID     string `json:"task_id"`
			TaskStatus string `json:"task_status"` // PENDING, RUNNING, SUCCEEDED, FAILED
			Result     string `json:"result,omitempty"`
			Message    string `json:"message,omitempty"`
		} `json:"output"`
		RequestID string `json:"request_id"`
	}
)

// submitTask submits an async vision task and returns its task id.
func (c *Client) submitTask(ctx context.Context, imageURL, prompt string) (string, error) {
	body, err := json.Marshal(taskReq{
		Model: "style-analysis-v1",
		Input: taskInput{ImageURL: imageURL, Prompt: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("submitTask: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/services/vision/tasks", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("submitTask: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-DashScope-Async", "enable")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitTask: hc.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("submitTask: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply taskResp
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("submitTask: json.Decode: %w", err)
	}

	return reply.Output.TaskID, nil
}

// checkTask fetches the current state of a task.
func (c *Client) checkTask(ctx context.Context, taskID string) (*taskResp, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("checkTask: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkTask: hc.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("checkTask: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply taskResp
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("checkTask: json.Decode: %w", err)
	}

	return &reply, nil
}
