package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"tvrelay/internal/eventbus"
	kit "tvrelay/internal/transport"
	logx "tvrelay/pkg/logx"

	"golang.org/x/time/rate"
)

var ErrNotConfigured = errors.New("notifier not configured")

// Service sends one message per call, synchronously, with no retries.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	// In-memory history (for operator visibility)
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Config returns the active configuration.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Send delivers text to the configured target. The whole call, including the
// rate-limit wait, is bounded by the configured timeout.
func (s *Service) Send(ctx context.Context, text string) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	// config snapshot for this send
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	start := time.Now()
	err := s.deliver(ctx, cfg, lim, sender, text)
	took := time.Since(start)

	ev := NotificationEvent{
		ChatID:   cfg.Target.ChatID,
		ThreadID: cfg.Target.ThreadID,
		Chars:    utf8.RuneCountInString(text),
		Took:     took,
		At:       start,
	}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("notify send failed", logx.Err(err), logx.Duration("took", took))
		s.publish(eventbus.NotifyFailed, ev)
		return Result{Reason: err.Error()}
	}

	s.appendHistory(text)
	s.log.Debug("notify sent", logx.Int("chars", ev.Chars), logx.Duration("took", took))
	s.publish(eventbus.NotifySent, ev)
	return Result{OK: true}
}

func (s *Service) deliver(ctx context.Context, cfg Config, lim *rate.Limiter, sender kit.Sender, text string) error {
	if sender == nil || cfg.Target.IsZero() {
		return ErrNotConfigured
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if lim != nil {
		if err := lim.Wait(callCtx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	opt := &kit.SendOptions{ParseMode: cfg.ParseMode, DisablePreview: cfg.DisablePreview}

	// Senders that ignore ctx still cannot hold the caller past the deadline.
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("send panic: %v", r)
			}
		}()
		_, err := sender.SendText(callCtx, cfg.Target, text, opt)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return fmt.Errorf("send timed out after %s: %w", cfg.Timeout, callCtx.Err())
	}
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()
}
