package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "tvrelay/internal/transport"
)

const (
	tgQueueSize   = 128
	tgSendTimeout = 10 * time.Second
	tgMaxText     = 3500
	tgMaxValue    = 600
)

// telegramSink is a zerolog.LevelWriter that forwards records to a chat from a
// single background goroutine. Writes never block: records over the rate or
// beyond the queue are dropped.
type telegramSink struct {
	sender kit.Sender
	target kit.ChatTarget
	queue  chan string

	mu       sync.Mutex
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
}

func newTelegramSink(sender kit.Sender, target kit.ChatTarget) *telegramSink {
	return &telegramSink{
		sender:   sender,
		target:   target,
		queue:    make(chan string, tgQueueSize),
		minLevel: zerolog.WarnLevel,
	}
}

// configure sets the threshold and rate and starts the worker on first use.
func (t *telegramSink) configure(minLevel zerolog.Level, perSec int) {
	if perSec <= 0 {
		perSec = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLevel = minLevel
	t.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	if t.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel, t.done = cancel, make(chan struct{})
		go t.run(ctx, t.done)
	}
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			sctx, cancel := context.WithTimeout(ctx, tgSendTimeout)
			_, _ = t.sender.SendText(sctx, t.target, text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) close() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.NoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	skip := level < t.minLevel || t.limiter == nil || !t.limiter.Allow()
	t.mu.Unlock()
	if skip {
		return len(p), nil
	}
	if text := formatTelegramJSON(p); text != "" {
		select {
		case t.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// formatTelegramJSON renders one JSON record as "[LEVEL] message" followed by
// the remaining keys, sorted, one per line.
func formatTelegramJSON(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return clip(strings.TrimSpace(string(p)), tgMaxText)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(rec, zerolog.LevelFieldName)
	delete(rec, zerolog.MessageFieldName)
	delete(rec, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), tgMaxValue))
	}
	return clip(b.String(), tgMaxText)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
