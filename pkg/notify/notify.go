// Package notify posts lifecycle notifications to a single configured
// outgoing webhook URL, matching §6.3's Slack-incoming-webhook-shaped
// contract.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"k8s.io/klog/v2"
)

// Notifier posts a human-readable message on Running/Stopped/Deleted
// transitions. Failures are logged and never propagated, matching
// spec.md §7's "notification failures are swallowed."
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// SlackPoster posts {"text": message} to a configured webhook URL, the
// same request shape as the teacher's HTTPClient.MakeRequest (a plain
// *http.Client with a fixed timeout, JSON body, status-code check) —
// adapted here from bearer-token Dashboard-API calls to an anonymous
// incoming webhook, per notification_service.py's confirmed payload
// shape.
type SlackPoster struct {
	webhookURL string
	client     *http.Client
}

// NewSlackPoster builds a poster for the given webhook URL. An empty
// URL is valid: Notify becomes a no-op, which lets the orchestrator run
// without a configured notification hook.
func NewSlackPoster(webhookURL string) *SlackPoster {
	return &SlackPoster{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify posts message to the webhook. Errors are logged, not
// returned: notification failures must never affect lifecycle state.
func (p *SlackPoster) Notify(ctx context.Context, message string) {
	if p.webhookURL == "" {
		return
	}

	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		klog.Errorf("notify: marshaling payload: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		klog.Errorf("notify: building request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		klog.Errorf("notify: posting to webhook: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		klog.Errorf("notify: webhook returned status %s", fmt.Sprint(resp.StatusCode))
	}
}
