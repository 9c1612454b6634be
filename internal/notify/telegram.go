package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultTelegramURL = "https://api.telegram.org"

	// Telegram rejects longer messages.
	maxTelegramMessage = 4096
)

// TelegramConfig configures the Telegram sender.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	BaseURL string `yaml:"base_url"`
}

// Telegram sends messages through the Bot API sendMessage method. Each Send is
// a single attempt; failed alerts are not retried.
type Telegram struct {
	config     TelegramConfig
	httpClient *http.Client
}

// NewTelegram creates a Telegram sender.
func NewTelegram(config TelegramConfig) (*Telegram, error) {
	if config.Token == "" || config.ChatID == "" {
		return nil, errors.New("notify: telegram token and chat_id are required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultTelegramURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Telegram{
		config:     config,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers text to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	text = truncateMessage(text, maxTelegramMessage)

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.config.ChatID,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal telegram message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.config.BaseURL, t.config.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("notify: telegram HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("notify: read telegram response: %w", err)
	}

	var parsed sendMessageResponse
	_ = json.Unmarshal(respBody, &parsed)
	if resp.StatusCode != http.StatusOK || !parsed.OK {
		return fmt.Errorf("notify: telegram HTTP %d: %s", resp.StatusCode, parsed.Description)
	}
	return nil
}

// truncateMessage cuts text to at most limit characters without splitting a
// multi-byte character.
func truncateMessage(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}
