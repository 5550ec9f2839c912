package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"style-analysis/internal/status"

	pubnub "github.com/pubnub/go/v7"
)

type Config struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`

	PNSubKey    string `json:"pn_subkey"`
	PNSubSecret string `json:"pn_subsecret"`
	PNUUID      string `json:"pn_uuid"`
	PNChannel   string `json:"pn_channel"`
	PNCipherKey string `json:"pn_cipherkey"`
}

// Dashscope submits async vision tasks over HTTP; completion events arrive
// on a PubNub channel per task and are pushed into the result channel.
type Dashscope struct {
	cfg    *Config
	client *Client
	sub    *subscribe
}

type (
	payload struct {
		TaskID      string `json:"task_id"`
		TaskStatus  string `json:"task_status"`
		Result      string `json:"result,omitempty"`
		Message     string `json:"message,omitempty"`
		CompletedAt string `json:"end_time,omitempty"`
	}
)

// New returns a new Dashscope instance with an active PubNub subscription.
func New(ctx context.Context, cfg *Config) (*Dashscope, error) {
	d := &Dashscope{
		cfg: cfg,
		client: newClient(&ClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
		}),
	}

	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PNUUID))
	pnCfg.SubscribeKey = cfg.PNSubKey
	pnCfg.CipherKey = cfg.PNCipherKey
	pnCfg.SecretKey = cfg.PNSubSecret

	sub := &subscribe{
		pn:  pubnub.NewPubNub(pnCfg),
		lis: pubnub.NewListener(),
	}
	sub.pn.AddListener(sub.lis)
	go sub.processSubscription(ctx)

	d.sub = sub
	return d, nil
}

type subscribe struct {
	pn  *pubnub.PubNub
	lis *pubnub.Listener

	mu sync.Mutex
	ch chan *status.AnalysisEvent
}

// setResultChan swaps the sink; processSubscription reads it per message.
func (s *subscribe) setResultChan(ch chan *status.AnalysisEvent) {
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
}

func (s *subscribe) resultChan() chan *status.AnalysisEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *subscribe) processSubscription(ctx context.Context) {
	listener := s.lis
	for {
		select {
		case st := <-listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("connected to pubnub")
			case pubnub.PNReconnectedCategory:
				log.Println("reconnected to pubnub")
			case pubnub.PNDisconnectedCategory:
				log.Println("disconnected from pubnub")
			case pubnub.PNAccessDeniedCategory:
				log.Println("access denied connect to pubnub")
			case pubnub.PNTimeoutCategory:
				log.Println("timeout connect to pubnub")
			default:
				log.Println("pubnub status:", st.Category)
			}

		case message := <-listener.Message:
			raw, ok := message.Message.(string)
			if !ok {
				log.Printf("dashscope: unexpected message type %T", message.Message)
				continue
			}

			var p payload
			dec := json.NewDecoder(strings.NewReader(raw))
			if err := dec.Decode(&p); err != nil {
				log.Println(err)
				continue
			}

			event := p.toEvent()
			if ch := s.resultChan(); ch != nil {
				ch <- event
			}

		case <-ctx.Done():
			log.Println("close dashscope subscribe")
			return
		}
	}
}

func (p *payload) toEvent() *status.AnalysisEvent {
	event := &status.AnalysisEvent{
		ProviderRef: p.TaskID,
		Output:      p.Result,
		Error:       p.Message,
		CompletedAt: time.Now(),
	}

	switch p.TaskStatus {
	case "SUCCEEDED":
		event.Status = "succeeded"
	default:
		event.Status = "failed"
	}

	if p.CompletedAt != "" {
		if ts, err := time.ParseInLocation("2006-01-02 15:04:05", p.CompletedAt, time.Local); err == nil {
			event.CompletedAt = ts
		}
	}

	return event
}

func (d *Dashscope) CreateAnalysis(ctx context.Context, imageURL, prompt string) (string, error) {
	taskID, err := d.client.submitTask(ctx, imageURL, prompt)
	if err != nil {
		return "", err
	}

	d.addChannel(taskID)
	return taskID, nil
}

func (d *Dashscope) CheckAnalysis(ctx context.Context, taskID string) (*status.AnalysisEvent, error) {
	reply, err := d.client.checkTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	p := payload{
		TaskID:     reply.Output.TaskID,
		TaskStatus: reply.Output.TaskStatus,
		Result:     reply.Output.Result,
		Message:    reply.Output.Message,
	}

	event := p.toEvent()
	// non-terminal task states pass through unchanged
	switch reply.Output.TaskStatus {
	case "PENDING", "RUNNING":
		event.Status = strings.ToLower(reply.Output.TaskStatus)
		event.Error = ""
	}
	return event, nil
}

func (d *Dashscope) addChannel(taskID string) {
	channel := fmt.Sprintf("%s_%s", d.cfg.PNChannel, taskID)

	// replay the last 2 minutes in case the result beat the subscription
	tt := time.Now().Add(-2*time.Minute).Unix() * 10000

	d.sub.pn.Subscribe().Channels([]string{channel}).Timetoken(tt).Execute()
}

func (d *Dashscope) Unsubscribe(taskID string) {
	d.sub.pn.Unsubscribe().Channels([]string{fmt.Sprintf("%s_%s", d.cfg.PNChannel, taskID)}).Execute()
}

func (d *Dashscope) SetResultChannel(ch chan *status.AnalysisEvent) {
	d.sub.setResultChan(ch)
}

func (d *Dashscope) Close(ctx context.Context) error {
	d.sub.pn.UnsubscribeAll()
	return nil
}
