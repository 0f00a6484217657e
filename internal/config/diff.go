package config

import (
	"strings"

	logx "tvrelay/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{
	"telegram": true,
	"storage":  true,
}

// NeedsRestart reports whether any of the changed sections cannot be applied live.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		ot.ChatID != nt.ChatID ||
		ot.ThreadID != nt.ThreadID ||
		strings.TrimSpace(ot.ParseMode) != strings.TrimSpace(nt.ParseMode) ||
		ot.DisablePreview != nt.DisablePreview ||
		strings.TrimSpace(ot.Timeout) != strings.TrimSpace(nt.Timeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.chat_id", string(nt.ChatID)),
			logx.Int("telegram.thread_id", nt.ThreadID),
			logx.String("telegram.parse_mode", nt.ParseMode),
		)
	}

	// Server (never log pprof token)
	oldSrv, newSrv := oldCfg.Server, newCfg.Server
	if oldSrv.Host != newSrv.Host ||
		oldSrv.Port != newSrv.Port ||
		oldSrv.MaxBodyBytes != newSrv.MaxBodyBytes ||
		strings.TrimSpace(oldSrv.ReadTimeout) != strings.TrimSpace(newSrv.ReadTimeout) ||
		strings.TrimSpace(oldSrv.WriteTimeout) != strings.TrimSpace(newSrv.WriteTimeout) ||
		strings.TrimSpace(oldSrv.IdleTimeout) != strings.TrimSpace(newSrv.IdleTimeout) ||
		oldSrv.Pprof.Enabled != newSrv.Pprof.Enabled ||
		strings.TrimSpace(oldSrv.Pprof.Prefix) != strings.TrimSpace(newSrv.Pprof.Prefix) ||
		oldSrv.Pprof.Token != newSrv.Pprof.Token {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.host", newSrv.Host),
			logx.Int("server.port", newSrv.Port),
			logx.Int64("server.max_body_bytes", newSrv.MaxBodyBytes),
			logx.Bool("server.pprof_enabled", newSrv.Pprof.Enabled),
			logx.Bool("server.pprof_token_set", strings.TrimSpace(newSrv.Pprof.Token) != ""),
		)
	}

	// Webhook (never log secret)
	if oldCfg.Webhook.Secret != newCfg.Webhook.Secret {
		changed = append(changed, "webhook")
		attrs = append(attrs, logx.Bool("webhook.secret_changed", true))
	}

	if strings.TrimSpace(oldCfg.Dedup.Window) != strings.TrimSpace(newCfg.Dedup.Window) ||
		strings.TrimSpace(oldCfg.Dedup.Horizon) != strings.TrimSpace(newCfg.Dedup.Horizon) {
		changed = append(changed, "dedup")
		attrs = append(attrs,
			logx.String("dedup.window", newCfg.Dedup.Window),
			logx.String("dedup.horizon", newCfg.Dedup.Horizon),
		)
	}

	if strings.TrimSpace(oldCfg.Notifier.Timeout) != strings.TrimSpace(newCfg.Notifier.Timeout) ||
		oldCfg.Notifier.RatePerSec != newCfg.Notifier.RatePerSec {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.timeout", newCfg.Notifier.Timeout),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.retention", newCfg.Storage.Retention),
			logx.String("storage.prune_schedule", newCfg.Storage.PruneSchedule),
		)
	}

	return changed, attrs
}
