package notifier

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4000

// TelegramConfig addresses one chat (optionally a forum topic).
type TelegramConfig struct {
	Token          string
	ChatID         int64
	ThreadID       int
	DisablePreview bool
	Timeout        time.Duration
}

// Telegram sends alerts with the Bot API. It never polls for updates.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
	opt  tele.SendOptions
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return &Telegram{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		opt: tele.SendOptions{
			DisableWebPagePreview: cfg.DisablePreview,
			ThreadID:              cfg.ThreadID,
		},
	}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := t.opt
		if _, err := t.bot.Send(t.chat, chunk, &opt); err != nil {
			return errors.Wrap(err, "telegram send")
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
	}
	return out
}
