package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"teamsbot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel over the Telegram Bot API using
// long polling.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates. All text
// is forwarded to the bus untouched; commands and patterns are the
// dispatcher's business.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", t.deliver)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop shuts down the Telegram bot.
// Note: StopReceivingUpdates is already called when ctx is cancelled in Start().
// Calling it twice panics, so Stop() is a no-op.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) deliver(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
		return
	}

	switch msg.Kind {
	case domain.KindTyping:
		// Best-effort: failure to show the indicator never blocks
		// the real response.
		action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
		if _, err := t.bot.Request(action); err != nil {
			t.logger.Debug("telegram typing action failed", "err", err)
		}
	case domain.KindCard:
		t.sendCard(chatID, msg.Card)
	default:
		t.sendMessage(chatID, msg.Text)
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Text:      text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendCard renders a card as a Telegram message with an inline URL
// keyboard, or as a captioned photo when the card carries an image.
func (t *Telegram) sendCard(chatID int64, card *domain.Card) {
	if card == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(card.Title)
	if card.Subtitle != "" {
		sb.WriteString("\n")
		sb.WriteString(card.Subtitle)
	}
	if card.Body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(card.Body)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, a := range card.Actions {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(a.Title, a.URL),
		))
	}

	if card.ImageURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(card.ImageURL))
		photo.Caption = sb.String()
		if len(rows) > 0 {
			photo.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		}
		if _, err := t.bot.Send(photo); err == nil {
			return
		}
		// Photo delivery failed, fall back to plain text below.
	}

	msg := tgbotapi.NewMessage(chatID, sb.String())
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("telegram card send failed", "err", err)
	}
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try Markdown first, on parse error fall back to plain text, then
// retry with backoff.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (parse mode may be malformed).

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt: immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		// Exponential backoff for other transient errors.
		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
