package telegram

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// maxMessageLen is the Bot API limit on a single message body.
const maxMessageLen = 4096

// Notifier delivers operator messages.
type Notifier interface {
	SendMessage(text string) error
}

type client struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
}

// NewClient creates a Markdown notifier for one chat. Sends are paced to one
// per second, the per-chat limit of the Bot API.
func NewClient(botToken string, chatID int64) (Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &client{
		bot:     bot,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// SendMessage sends text, split on line boundaries when it exceeds the message limit.
func (c *client) SendMessage(text string) error {
	for _, part := range splitMessage(text, maxMessageLen) {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(c.chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		if _, err := c.bot.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage cuts text into parts of at most limit bytes, preferring line
// breaks. A single line longer than limit is cut on a rune boundary.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			parts = append(parts, strings.TrimRight(b.String(), "\n"))
			b.Reset()
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		if b.Len()+len(line) > limit {
			flush()
		}
		b.WriteString(line)
	}
	flush()
	return parts
}

type nopNotifier struct{}

// NewNopNotifier drops every message. Used when no bot token is configured.
func NewNopNotifier() Notifier { return nopNotifier{} }

func (nopNotifier) SendMessage(string) error { return nil }
