package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Webhook POSTs alerts as JSON to a user-supplied URL.
type Webhook struct {
	URL        string
	httpClient *http.Client
}

// webhookPayload is the outbound body. "text" matches what Slack-compatible
// receivers expect; "source" lets a shared endpoint route by origin.
type webhookPayload struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func (w *Webhook) Deliver(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookPayload{Text: text, Source: "pinch"})
	if err != nil {
		return fmt.Errorf("alert: marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alert: webhook POST: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert: webhook returned %d", resp.StatusCode)
	}
	return nil
}
