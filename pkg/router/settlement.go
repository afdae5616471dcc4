package router

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// SettlementNotice is the best-effort signal emitted after a paid
// invocation. Settlement itself happens outside this module; the notice is
// advisory telemetry for the party that does settle.
type SettlementNotice struct {
	RequestID     string    `json:"request_id"`
	CapabilityID  string    `json:"capability_id"`
	CallerID      string    `json:"caller_id"`
	EstimatedCost float64   `json:"estimated_cost"`
	Currency      string    `json:"currency"`
	Confidential  bool      `json:"confidential"`
	CompletedAt   time.Time `json:"completed_at"`
}

// SettlementEmitter delivers settlement notices. Emission is awaited by the
// orchestrator but failures never fail the invocation.
type SettlementEmitter interface {
	Emit(ctx context.Context, notice *SettlementNotice) error
}

const settlementTimeout = 5 * time.Second

// WebhookEmitter posts notices as JSON to a configured endpoint.
type WebhookEmitter struct {
	client *resty.Client
	url    string
}

func NewWebhookEmitter(url string) *WebhookEmitter {
	return &WebhookEmitter{
		client: resty.New().SetTimeout(settlementTimeout),
		url:    url,
	}
}

func (w *WebhookEmitter) Emit(ctx context.Context, notice *SettlementNotice) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(notice).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("settlement webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("settlement webhook: endpoint returned %s", resp.Status())
	}
	return nil
}
