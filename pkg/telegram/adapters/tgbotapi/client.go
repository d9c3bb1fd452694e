package tgbotapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
	"callwatch/pkg/telegram"
)

// allowedUpdates limits getUpdates to message-bearing updates
var allowedUpdates = []string{"message", "edited_message", "channel_post", "edited_channel_post"}

// Bot wraps the Bot API for polling, replies and announcements
type Bot struct {
	api         *tgbotapi.BotAPI
	log         *logger.Logger
	rateLimiter *rate.Limiter
	pollTimeout int
}

// Config contains Telegram bot configuration
type Config struct {
	Token          string
	APIEndpoint    string // format string with token and method, defaults to tgbotapi.APIEndpoint
	Debug          bool
	PollTimeout    int // getUpdates long-poll seconds, must stay below HTTPTimeout
	HTTPTimeout    time.Duration
	RateLimitBurst int
	RateLimitRate  int
}

// NewBot creates a bot client and verifies the token with getMe
func NewBot(cfg Config, log *logger.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "telegram bot token is required")
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 30
	}
	if cfg.RateLimitRate == 0 {
		cfg.RateLimitRate = 20
	}
	if time.Duration(cfg.PollTimeout)*time.Second >= cfg.HTTPTimeout {
		cfg.PollTimeout = 0
	}

	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}
	api.Debug = cfg.Debug

	log.Infow("Authorized on telegram", "username", api.Self.UserName)

	return &Bot{
		api:         api,
		log:         log.With("component", "telegram_bot"),
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRate), cfg.RateLimitBurst),
		pollTimeout: cfg.PollTimeout,
	}, nil
}

// Username returns the bot's own username
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// GetUpdates fetches pending updates starting at offset.
// The raw result is decoded into telegram.Update so forum thread ids survive.
func (b *Bot) GetUpdates(ctx context.Context, offset int64, limit int) ([]telegram.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := tgbotapi.Params{}
	params.AddNonZero64("offset", offset)
	params.AddNonZero("limit", limit)
	params.AddNonZero("timeout", b.pollTimeout)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return nil, errors.Wrap(err, "failed to encode allowed updates")
	}

	resp, err := b.api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, errors.Wrap(err, "telegram getUpdates failed")
	}

	var updates []telegram.Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, errors.Wrap(err, "failed to decode telegram updates")
	}
	return updates, nil
}

// Reply sends text into chatID as a reply to replyToMessageID (0 for none)
func (b *Bot) Reply(ctx context.Context, chatID, replyToMessageID int64, text string) error {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter error")
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = int(replyToMessageID)
	msg.DisableWebPagePreview = true

	if _, err := b.api.Send(msg); err != nil {
		b.log.Errorw("Failed to send message", "chat_id", chatID, "error", err)
		return errors.Wrap(err, "failed to send telegram message")
	}
	return nil
}

// SendMessage sends a plain text message
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	return b.Reply(ctx, chatID, 0, text)
}

// SetWebhook registers the webhook URL with an optional secret token
func (b *Bot) SetWebhook(webhookURL, secret string) error {
	params := tgbotapi.Params{}
	params["url"] = webhookURL
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return errors.Wrap(err, "failed to encode allowed updates")
	}

	if _, err := b.api.MakeRequest("setWebhook", params); err != nil {
		return errors.Wrap(err, "failed to set webhook")
	}
	b.log.Infow("Webhook registered", "url", webhookURL)
	return nil
}

// DeleteWebhook removes the webhook so getUpdates can be used
func (b *Bot) DeleteWebhook(dropPendingUpdates bool) error {
	params := tgbotapi.Params{}
	params.AddBool("drop_pending_updates", dropPendingUpdates)

	if _, err := b.api.MakeRequest("deleteWebhook", params); err != nil {
		return errors.Wrap(err, "failed to delete webhook")
	}
	b.log.Infow("Webhook deleted", "drop_pending_updates", dropPendingUpdates)
	return nil
}
