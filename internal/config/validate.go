package config

import (
	"errors"
	"fmt"
	"strings"

	logx "tvrelay/pkg/logx"

	"github.com/robfig/cron/v3"
)

// ErrMissingRequired is returned (wrapped) when a required value is unset in
// both the file and the environment.
var ErrMissingRequired = errors.New("missing required config")

const (
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 8000
	DefaultParseMode = "Markdown"
)

// applyDefaults fills zero values that have a fixed default. Durations are left
// as strings; callers resolve them with ParseDurationOrDefault.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Host) == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if strings.TrimSpace(cfg.Telegram.ParseMode) == "" {
		cfg.Telegram.ParseMode = DefaultParseMode
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "none"
	}
}

// Validate checks required values and field syntax. Missing required values are
// reported together and wrap ErrMissingRequired.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrMissingRequired)
	}

	var missing []string
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		missing = append(missing, "telegram.token ("+EnvBotToken+")")
	}
	if strings.TrimSpace(string(cfg.Telegram.ChatID)) == "" {
		missing = append(missing, "telegram.chat_id ("+EnvChatID+")")
	}
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		missing = append(missing, "webhook.secret ("+EnvSecret+")")
	}
	if strings.TrimSpace(cfg.Server.Host) == "" {
		missing = append(missing, "server.host ("+EnvHost+")")
	}
	if cfg.Server.Port == 0 {
		missing = append(missing, "server.port ("+EnvPort+")")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	var errs []error
	if _, _, err := cfg.Telegram.ChatID.Resolve(); err != nil {
		errs = append(errs, fmt.Errorf("telegram.%w", err))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", cfg.Server.Port))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be >= 0"))
	}
	if cfg.Notifier.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("notifier.rate_per_sec must be >= 0"))
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("logging.telegram.rate_per_sec must be >= 0"))
	}

	durations := []struct{ path, raw string }{
		{"telegram.timeout", cfg.Telegram.Timeout},
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeout},
		{"dedup.window", cfg.Dedup.Window},
		{"dedup.horizon", cfg.Dedup.Horizon},
		{"notifier.timeout", cfg.Notifier.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"storage.retention", cfg.Storage.Retention},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		errs = append(errs, fmt.Errorf("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if spec := strings.TrimSpace(cfg.Storage.PruneSchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("storage.prune_schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}
