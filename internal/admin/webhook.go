package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// EmitEvent POSTs an event payload to every registered webhook target at
// <target>/topic/<topic>. Emission runs on the dispatcher's queue so the
// caller never blocks on a slow subscriber; failures are logged and the
// event is not redelivered.
func (s *Server) EmitEvent(topic string, payload any) {
	targets := s.WebhookTargets()
	if len(targets) == 0 {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode webhook event", "topic", topic, "error", err)
		return
	}

	for _, target := range targets {
		url := target + "/topic/" + topic
		s.enqueue(func(ctx context.Context) error {
			if err := postWebhook(ctx, url, body); err != nil {
				s.logger.Warn("webhook delivery failed", "url", url, "error", err)
				return err
			}
			s.logger.Debug("webhook delivered", "url", url)
			return nil
		})
	}
}

func postWebhook(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := webhookClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
