package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"crypto-alerts/internal/model"
)

// ChatNotifier sends triggers to a Telegram-style bot API. The alert's
// chatTarget field selects the destination chat; alerts without one are
// skipped.
type ChatNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
}

// NewChatNotifier creates a chat notifier.
// botToken: bot API token. baseURL overrides the API host for tests;
// empty means the Telegram API.
func NewChatNotifier(botToken, baseURL string) *ChatNotifier {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &ChatNotifier{
		botToken: botToken,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *ChatNotifier) Name() string { return "chat" }

func (c *ChatNotifier) Applies(alert *model.Alert) bool {
	return c.botToken != "" && alert.ChatTarget != ""
}

func (c *ChatNotifier) Send(ctx context.Context, ev *model.TriggeredAlert, alert *model.Alert) error {
	body, _ := json.Marshal(map[string]interface{}{
		"chat_id": alert.ChatTarget,
		"text":    message(ev, alert),
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat: unexpected status %d", resp.StatusCode)
	}
	return nil
}
