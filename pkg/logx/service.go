package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	kit "tvrelay/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

// FileConfig enables a JSON log file rotated by lumberjack. Zero sizes use
// 10 MB, 3 backups and 28 days.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TelegramConfig mirrors records at or above MinLevel (default warn) into the
// relay chat, at most RatePerSec (default 1) per second.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

const defaultLogPath = "./logs/tvrelay.log"

// Service owns the log outputs. Apply swaps them without invalidating Loggers
// already handed out.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *lumberjack.Logger
	tg   *telegramSink
}

// New builds the service and applies cfg. sender and target feed the Telegram
// sink; sender may be nil when it is never enabled.
func New(cfg Config, sender kit.Sender, target kit.ChatTarget) (*Service, Logger) {
	s := &Service{}
	if sender != nil && !target.IsZero() {
		s.tg = newTelegramSink(sender, target)
	}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() *zerolog.Logger { return s.root.Load() }

// Apply rebuilds the writer set and level.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		if f, err := openRotating(cfg.File); err != nil {
			fmt.Fprintf(os.Stderr, "logx: file output disabled: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	if cfg.Telegram.Enabled {
		if s.tg == nil {
			fmt.Fprintln(os.Stderr, "logx: telegram output enabled without a sender or chat")
		} else {
			s.tg.configure(parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel), cfg.Telegram.RatePerSec)
			outs = append(outs, s.tg)
		}
	}

	// never lose logs entirely
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if old != nil {
		_ = old.Close()
	}
}

func openRotating(fc FileConfig) (*lumberjack.Logger, error) {
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(fc.MaxSizeMB, 10),
		MaxBackups: positiveOr(fc.MaxBackups, 3),
		MaxAge:     positiveOr(fc.MaxAgeDays, 28),
		Compress:   fc.Compress,
	}, nil
}

// Close flushes the Telegram queue worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	tg := s.tg
	s.mu.Unlock()

	if tg != nil {
		tg.close()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
