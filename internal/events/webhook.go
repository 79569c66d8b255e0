// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// WebhookConfig describes an outbound forwarder: events matching any of
// Patterns are POSTed as JSON to URL with an optional bearer token.
type WebhookConfig struct {
	URL      string
	Token    string
	Patterns []string
	Timeout  time.Duration
}

// Webhook forwards bus events to an external HTTP endpoint. It is
// deliberately best-effort: a failed delivery is logged and dropped, it
// never retries, and it never blocks the publisher (it is always
// registered via SubscribeAsync).
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook constructs a forwarder. Call Subscribe to attach it to a bus.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Subscribe registers the webhook against bus for every configured
// pattern and returns the subscription IDs (for later Unsubscribe calls).
func (w *Webhook) Subscribe(bus EventBus) ([]SubscriptionID, error) {
	patterns := w.cfg.Patterns
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	ids := make([]SubscriptionID, 0, len(patterns))
	for _, pattern := range patterns {
		id, err := bus.SubscribeAsync(pattern, w.deliver, 64)
		if err != nil {
			return ids, fmt.Errorf("subscribe webhook %s: %w", pattern, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (w *Webhook) deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("webhook: marshal event %s: %v", event.Type, err)
		return nil
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		log.Printf("webhook: build request for %s: %v", event.Type, err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		log.Printf("webhook: deliver %s to %s: %v", event.Type, w.cfg.URL, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("webhook: %s rejected %s with status %d", w.cfg.URL, event.Type, resp.StatusCode)
	}
	return nil
}
