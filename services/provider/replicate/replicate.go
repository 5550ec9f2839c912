package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"style-analysis/internal/status"
)

type Config struct {
	BaseURL       string `json:"base_url"`
	Token         string `json:"token"`
	Model         string `json:"model"`
	WebhookURL    string `json:"webhook_url"`
	WebhookSecret string `json:"webhook_secret"`

	// PollInterval drives the fallback poller for predictions whose
	// webhook never arrives.
	PollInterval time.Duration `json:"poll_interval"`
}

// Replicate submits predictions over HTTP. Completion normally arrives via
// the signed webhook; a fallback poller covers lost deliveries.
type Replicate struct {
	cfg    *Config
	client *Client

	mu      sync.Mutex
	pending map[string]struct{} // outstanding prediction ids
	ch      chan *status.AnalysisEvent

	cancel context.CancelFunc
}

func New(ctx context.Context, cfg *Config) (*Replicate, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Second
	}

	pollCtx, cancel := context.WithCancel(ctx)
	r := &Replicate{
		cfg: cfg,
		client: newClient(&ClientConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			Model:   cfg.Model,
		}),
		pending: make(map[string]struct{}),
		cancel:  cancel,
	}

	go r.pollPending(pollCtx)

	return r, nil
}

func (r *Replicate) CreateAnalysis(ctx context.Context, imageURL, prompt string) (string, error) {
	ref, err := r.client.createPrediction(ctx, imageURL, prompt, r.cfg.WebhookURL)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.pending[ref] = struct{}{}
	r.mu.Unlock()

	return ref, nil
}

func (r *Replicate) CheckAnalysis(ctx context.Context, ref string) (*status.AnalysisEvent, error) {
	pred, err := r.client.getPrediction(ctx, ref)
	if err != nil {
		return nil, err
	}
	return toEvent(pred), nil
}

// Forget drops a prediction from the fallback poller, typically after its
// webhook already delivered the result.
func (r *Replicate) Forget(ref string) {
	r.mu.Lock()
	delete(r.pending, ref)
	r.mu.Unlock()
}

func (r *Replicate) SetResultChannel(ch chan *status.AnalysisEvent) {
	r.mu.Lock()
	r.ch = ch
	r.mu.Unlock()
}

func (r *Replicate) Close(ctx context.Context) error {
	r.cancel()
	return nil
}

func (r *Replicate) pollPending(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("replicate poller stopped")
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		refs := make([]string, 0, len(r.pending))
		for ref := range r.pending {
			refs = append(refs, ref)
		}
		ch := r.ch
		r.mu.Unlock()

		for _, ref := range refs {
			pred, err := r.client.getPrediction(ctx, ref)
			if err != nil {
				log.Printf("replicate poll %s: %v", ref, err)
				continue
			}

			event := toEvent(pred)
			if event.Status != "succeeded" && event.Status != "failed" {
				continue
			}

			r.Forget(ref)
			if ch != nil {
				ch <- event
			}
		}
	}
}

// ParseWebhook decodes a webhook delivery body into an analysis event.
// Non-terminal deliveries return a nil event.
func ParseWebhook(body []byte) (*status.AnalysisEvent, error) {
	var pred predictionResp
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("ParseWebhook: json.Unmarshal: %w", err)
	}

	event := toEvent(&pred)
	if event.Status != "succeeded" && event.Status != "failed" {
		return nil, nil
	}
	return event, nil
}

func toEvent(pred *predictionResp) *status.AnalysisEvent {
	event := &status.AnalysisEvent{
		ProviderRef: pred.ID,
		Status:      pred.Status,
		Output:      string(pred.Output),
		Error:       pred.Error,
		CompletedAt: time.Now(),
	}

	// canceled predictions surface as failed upstream
	if pred.Status == "canceled" {
		event.Status = "failed"
		if event.Error == "" {
			event.Error = "prediction canceled"
		}
	}

	if pred.CompletedAt != "" {
		if ts, err := time.Parse(time.RFC3339, pred.CompletedAt); err == nil {
			event.CompletedAt = ts
		}
	}

	return event
}
