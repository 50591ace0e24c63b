package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/sinalbot/signals/shared"
)

const (
	// DefaultTelegramURL is the bot api base url.
	DefaultTelegramURL = "https://api.telegram.org"
	// DefaultMessagesPerSecond is the default delivery rate to a single chat.
	DefaultMessagesPerSecond = 1
	// deliveryTimeout is the maximum duration of a single delivery.
	deliveryTimeout = time.Second * 10
	// maxErrorBody is the maximum length of a failed reply quoted in errors.
	maxErrorBody = 256
)

// TelegramConfig represents the configuration of the telegram notifier.
type TelegramConfig struct {
	// BaseURL is the bot api base url.
	BaseURL string
	// Token is the bot token.
	Token string
	// ChatID is the destination chat or channel id.
	ChatID string
	// MessagesPerSecond is the maximum delivery rate.
	MessagesPerSecond float64
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *TelegramConfig) Validate() error {
	var errs error

	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("telegram base url cannot be an empty string"))
	}
	if cfg.Token == "" {
		errs = errors.Join(errs, fmt.Errorf("telegram token cannot be an empty string"))
	}
	if cfg.ChatID == "" {
		errs = errors.Join(errs, fmt.Errorf("telegram chat id cannot be an empty string"))
	}
	if cfg.MessagesPerSecond < 0 {
		errs = errors.Join(errs, fmt.Errorf("messages per second cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// sendMessageRequest is the body of a bot api sendMessage call.
type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Telegram delivers messages to a telegram chat through the bot api.
type Telegram struct {
	cfg     *TelegramConfig
	httpc   http.Client
	limiter *rate.Limiter
	url     string
}

// Ensure the telegram notifier implements the Notifier interface.
var _ shared.Notifier = (*Telegram)(nil)

// NewTelegram initializes a new telegram notifier.
func NewTelegram(cfg *TelegramConfig) (*Telegram, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.MessagesPerSecond == 0 {
		cfg.MessagesPerSecond = DefaultMessagesPerSecond
	}

	t := &Telegram{
		cfg:     cfg,
		httpc:   http.Client{Timeout: deliveryTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), 1),
		url:     fmt.Sprintf("%s/bot%s/sendMessage", cfg.BaseURL, cfg.Token),
	}

	return t, nil
}

// Notify sends the provided html message to the configured chat. Transport
// failures and rejected messages are returned wrapping shared.ErrDeliveryFailed.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	err := t.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("awaiting delivery slot: %w", err)
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                t.cfg.ChatID,
		Text:                  message,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrDeliveryFailed, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading reply: %w", shared.ErrDeliveryFailed, err)
	}

	if resp.StatusCode != http.StatusOK || !gjson.GetBytes(body, "ok").Bool() {
		description := gjson.GetBytes(body, "description").String()
		if description == "" {
			description = string(body[:min(len(body), maxErrorBody)])
		}

		return fmt.Errorf("%w: status %d: %s", shared.ErrDeliveryFailed, resp.StatusCode, description)
	}

	t.cfg.Logger.Debug().Msgf("delivered message %d to chat %s",
		gjson.GetBytes(body, "result.message_id").Int(), t.cfg.ChatID)

	return nil
}
