package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"tvrelay/internal/config"
	"tvrelay/internal/httpserver"
	"tvrelay/internal/notifier"
	"tvrelay/internal/storage"
	kit "tvrelay/internal/transport"
	logx "tvrelay/pkg/logx"
)

func mapTarget(cfg *config.Config) (kit.ChatTarget, error) {
	id, username, err := cfg.Telegram.ChatID.Resolve()
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("telegram.%w", err)
	}
	return kit.ChatTarget{ChatID: id, Username: username, ThreadID: cfg.Telegram.ThreadID}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	target, err := mapTarget(cfg)
	if err != nil {
		return notifier.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("notifier.timeout", cfg.Notifier.Timeout, notifier.DefaultTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Target:         target,
		ParseMode:      strings.TrimSpace(cfg.Telegram.ParseMode),
		DisablePreview: cfg.Telegram.DisablePreview,
		Timeout:        timeout,
		RatePerSec:     cfg.Notifier.RatePerSec,
	}, nil
}

func mapDedup(cfg *config.Config) (window, horizon time.Duration, err error) {
	if window, err = config.ParseDurationField("dedup.window", cfg.Dedup.Window); err != nil {
		return 0, 0, err
	}
	if horizon, err = config.ParseDurationField("dedup.horizon", cfg.Dedup.Horizon); err != nil {
		return 0, 0, err
	}
	return window, horizon, nil
}

func mapServer(cfg *config.Config) (httpserver.Config, error) {
	sc := cfg.Server
	read, err := config.ParseDurationOrDefault("server.read_timeout", sc.ReadTimeout, httpserver.DefaultReadTimeout)
	if err != nil {
		return httpserver.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, httpserver.DefaultWriteTimeout)
	if err != nil {
		return httpserver.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("server.idle_timeout", sc.IdleTimeout, httpserver.DefaultIdleTimeout)
	if err != nil {
		return httpserver.Config{}, err
	}
	return httpserver.Config{
		Addr:         net.JoinHostPort(strings.TrimSpace(sc.Host), strconv.Itoa(sc.Port)),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		Pprof: httpserver.PprofConfig{
			Enabled: sc.Pprof.Enabled,
			Prefix:  sc.Pprof.Prefix,
			Token:   sc.Pprof.Token,
		},
	}, nil
}

type storageSettings struct {
	store     storage.Config
	retention time.Duration
	schedule  string
}

func mapStorage(cfg *config.Config) (storageSettings, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storageSettings{}, err
	}
	keep, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storageSettings{}, err
	}
	return storageSettings{
		store: storage.Config{
			Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
			Path:        strings.TrimSpace(sc.Path),
			BusyTimeout: busy,
		},
		retention: keep,
		schedule:  sc.PruneSchedule,
	}, nil
}

// validateMapped rejects configs that pass Validate but cannot be mapped onto
// the running components.
func validateMapped(cfg *config.Config) error {
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, _, err := mapDedup(cfg); err != nil {
		return err
	}
	if _, err := mapServer(cfg); err != nil {
		return err
	}
	_, err := mapStorage(cfg)
	return err
}
