package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookResponder calls an external HTTP endpoint that generates replies.
// The endpoint receives {"chat_id", "message"} and answers with the Result
// shape; success=false in the body is reported as-is, not as an error.
type WebhookResponder struct {
	url    string
	client *http.Client
}

// NewWebhookResponder creates a responder for the given endpoint URL.
func NewWebhookResponder(url string, timeout time.Duration) *WebhookResponder {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &WebhookResponder{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// Invoke posts the user text to the webhook and decodes its result.
func (r *WebhookResponder) Invoke(ctx context.Context, conversationID, text string) (*Result, error) {
	body, err := json.Marshal(webhookRequest{ChatID: conversationID, Message: text})
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &TransportError{Err: err}
	}
	return &result, nil
}
