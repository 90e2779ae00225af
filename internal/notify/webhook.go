package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook POSTs each message as JSON to URL.
type Webhook struct {
	URL    string
	Secret string
	Client *http.Client
	Now    func() time.Time
}

type webhookMessage struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
	TS          string `json:"ts"`
}

func (w Webhook) Notify(ctx context.Context, userID, message string) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	body := webhookMessage{
		ID:          uuid.NewString(),
		RecipientID: userID,
		Message:     message,
		TS:          now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Projectflow-Delivery", body.ID)
	req.Header.Set("X-Projectflow-Recipient", userID)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Projectflow-Secret", w.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.URL, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.URL, res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
