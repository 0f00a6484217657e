package adapter

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "tvrelay/internal/transport"
	logx "tvrelay/pkg/logx"
)

// Config configures the Telegram Bot API client.
type Config struct {
	Token string
	// Timeout bounds a single Bot API HTTP call.
	Timeout time.Duration
	// Offline skips the getMe handshake (tests, dry runs).
	Offline bool
}

// Adapter sends messages through the Telegram Bot API.
//
// It is constructed once at startup and shared by every request; telebot.Bot and
// the underlying http.Client are safe for concurrent use.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(cfg.Token),
		Client:  &http.Client{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	if !cfg.Offline && b.Me != nil {
		log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	}
	return &Adapter{log: log, bot: b}, nil
}

// recipient implements tele.Recipient for both numeric ids and @usernames.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func recipientFor(to kit.ChatTarget) tele.Recipient {
	if u := strings.TrimSpace(to.Username); u != "" {
		if !strings.HasPrefix(u, "@") {
			u = "@" + u
		}
		return recipient(u)
	}
	return recipient(strconv.FormatInt(to.ChatID, 10))
}

// Telegram rejects messages over 4096 characters; keep headroom for entities.
const telegramTextLimit = 4000

// splitTelegramText cuts s into chunks of at most limit runes. A cut lands on
// the last newline in the window unless that would leave a chunk shorter than
// a third of the limit.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rest := []rune(s)
	if len(rest) <= limit {
		return []string{s}
	}

	var chunks []string
	for len(rest) > limit {
		cut, skip := limit, 0
		if i := lastNewline(rest[:limit+1]); i >= limit/3 {
			cut, skip = i, 1
		}
		if c := strings.TrimRight(string(rest[:cut]), "\n"); c != "" {
			chunks = append(chunks, c)
		}
		rest = trimLeadingNewlines(rest[cut+skip:])
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}

func lastNewline(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}

func trimLeadingNewlines(rs []rune) []rune {
	for len(rs) > 0 && rs[0] == '\n' {
		rs = rs[1:]
	}
	return rs
}

// SendText delivers text to the target, split into as many messages as
// needed. The returned ref points at the first one.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	switch {
	case to.IsZero():
		return kit.MessageRef{}, errors.New("telegram target is empty")
	case strings.TrimSpace(text) == "":
		return kit.MessageRef{}, errors.New("telegram message is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	send := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		send.ParseMode = opt.ParseMode
		send.DisableWebPagePreview = opt.DisablePreview
	}

	rcpt := recipientFor(to)
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(rcpt, chunk, send)
		if err != nil {
			a.log.Debug("telegram send failed", logx.Int("chunk", i), logx.Err(err))
			return first, err
		}
		if i == 0 && msg != nil {
			first = refOf(msg, to.ThreadID)
		}
	}
	return first, nil
}

func refOf(msg *tele.Message, thread int) kit.MessageRef {
	ref := kit.MessageRef{ThreadID: thread, MessageID: msg.ID}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	return ref
}
