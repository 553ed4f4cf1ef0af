package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTelegramBaseURL is the public Bot API endpoint.
	DefaultTelegramBaseURL = "https://api.telegram.org"
	defaultSendTimeout     = 10 * time.Second
)

// TelegramOptions configures a Telegram deliverer.
type TelegramOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	token    string
	baseURL  string
	client   *http.Client
	timeout  time.Duration
	resolver ChatResolver
	logger   *slog.Logger
}

// NewTelegram returns a deliverer for the bot identified by token. Recipients
// are translated with resolver; a recipient it cannot resolve is used as a
// chat id directly, which is how moderator and admin chats are configured.
func NewTelegram(token string, resolver ChatResolver, opts TelegramOptions) *Telegram {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultTelegramBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Telegram{
		token:    token,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   opts.HTTPClient,
		timeout:  opts.Timeout,
		resolver: resolver,
		logger:   opts.Logger.With("component", "delivery", "channel", "telegram"),
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Deliver sends text once. It reports false on any failure.
func (t *Telegram) Deliver(ctx context.Context, recipient, text string) bool {
	logger := t.logger.With("recipient", recipient)

	chatID := recipient
	if t.resolver != nil {
		if resolved, ok := t.resolver.ChatID(ctx, recipient); ok && resolved != "" {
			chatID = resolved
		}
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		logger.ErrorContext(ctx, "failed to encode message", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/bot"+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		logger.ErrorContext(ctx, "failed to build request", "error", t.redact(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		logger.WarnContext(ctx, "delivery failed", "error", t.redact(err))
		return false
	}
	defer resp.Body.Close()

	var decoded sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		logger.WarnContext(ctx, "undecodable bot api response", "status", resp.StatusCode, "error", err)
		return false
	}
	if resp.StatusCode != http.StatusOK || !decoded.OK {
		logger.WarnContext(ctx, "bot api rejected message", "status", resp.StatusCode, "description", decoded.Description)
		return false
	}
	return true
}

// redact drops the request URL, which embeds the bot token, from transport
// errors and masks any remaining occurrence of the token.
func (t *Telegram) redact(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	msg := err.Error()
	if t.token != "" {
		msg = strings.ReplaceAll(msg, t.token, "[redacted]")
	}
	return msg
}
