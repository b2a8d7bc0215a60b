package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Notifier delivers a one-line message about a finished batch.
type Notifier interface {
	Notify(content string) error
}

// WebhookNotifier posts the message as a Discord-compatible JSON
// payload to a configured webhook URL.
type WebhookNotifier struct {
	WebhookURL string
}

func (n *WebhookNotifier) Notify(content string) error {
	if n.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := http.Post(n.WebhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}
