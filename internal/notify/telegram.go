package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"

	"logalert/internal/config"
)

// TelegramSender broadcasts a plain-text copy of each alert to one chat.
// Params: bot token and chat id from config.
// Returns: optional secondary transport.
type TelegramSender struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegramSender creates the Telegram broadcast sender.
// Params: notify config section.
// Returns: initialized sender (init errors surface on Send).
func NewTelegramSender(cfg config.NotifyConfig) *TelegramSender {
	sender := &TelegramSender{
		chatID: normalizeChatID(cfg.TelegramChatID),
	}

	if strings.TrimSpace(cfg.TelegramBotToken) == "" {
		sender.initErr = errors.New("telegram bot token is required")
		return sender
	}
	if strings.TrimSpace(cfg.TelegramChatID) == "" {
		sender.initErr = errors.New("telegram chat_id is required")
		return sender
	}

	client, err := tgbot.New(cfg.TelegramBotToken, tgbot.WithSkipGetMe())
	if err != nil {
		sender.initErr = fmt.Errorf("init telegram bot: %w", err)
		return sender
	}
	sender.client = client
	return sender
}

// SendAlert posts a short alert summary to the configured chat.
// Params: ctx, rule name, index, total count, and window bounds.
// Returns: transport error.
func (s *TelegramSender) SendAlert(ctx context.Context, ruleName, indexName string, logCount int, from, to time.Time) error {
	if s.initErr != nil {
		return s.initErr
	}

	const layout = "2006-01-02 15:04:05"
	text := fmt.Sprintf(
		"🚨 %s\nindex: %s\nmatches: %d\nwindow: %s ~ %s",
		ruleName, indexName, logCount,
		from.Format(layout), to.Format(layout),
	)

	_, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: s.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps names as string.
// Params: configured chat id value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
