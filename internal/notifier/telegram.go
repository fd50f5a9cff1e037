package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"lifejourney/internal/jobs/engine"
)

type TelegramConfig struct {
	Token   string
	APIURL  string // default https://api.telegram.org
	Timeout time.Duration
}

// Telegram sends plain-text messages through the Bot API. It never polls
// for updates.
type Telegram struct {
	bot *tele.Bot
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

func (g *Telegram) Channel() string { return ChannelTelegram }

func (g *Telegram) Send(ctx context.Context, to, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil || chatID == 0 {
		return engine.NoRetry(fmt.Errorf("telegram: invalid chat id %q", to))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = g.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	return classifyTelegramError(err)
}

var (
	reTelegramCode  = regexp.MustCompile(`\((\d{3})\)\s*$`)
	reTelegramRetry = regexp.MustCompile(`retry after (\d+)`)
)

// classifyTelegramError maps Bot API failures, which telebot renders as
// "telegram: <description> (<code>)", onto the retry wrappers.
func classifyTelegramError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	m := reTelegramCode.FindStringSubmatch(msg)
	if m == nil {
		// Transport-level failure.
		return err
	}
	code, _ := strconv.Atoi(m[1])
	switch {
	case code == http.StatusTooManyRequests:
		after := time.Second
		if r := reTelegramRetry.FindStringSubmatch(msg); r != nil {
			n, _ := strconv.Atoi(r[1])
			after = time.Duration(n) * time.Second
		}
		return engine.RetryAfter(err, after)
	case code >= 500:
		return err
	default:
		return engine.NoRetry(err)
	}
}
