package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Server   ServerConfig   `json:"server"`
	Webhook  WebhookConfig  `json:"webhook"`
	Dedup    DedupConfig    `json:"dedup"`
	Notifier NotifierConfig `json:"notifier"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID ChatID `json:"chat_id"`
	// ThreadID targets a forum topic. 0 means the main chat.
	ThreadID       int    `json:"thread_id,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"` // default: "Markdown"
	DisablePreview bool   `json:"disable_preview,omitempty"`
	// Timeout bounds each Bot API HTTP call (Go duration string).
	Timeout string `json:"timeout,omitempty"`
}

// ChatID is a numeric chat id or a public @username. YAML and JSON numbers are
// accepted as well as strings.
type ChatID string

func (c *ChatID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ChatID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("chat_id: %w", err)
	}
	*c = ChatID(n.String())
	return nil
}

// Resolve splits the id into a numeric chat id or a username (without "@").
func (c ChatID) Resolve() (int64, string, error) {
	s := strings.TrimSpace(string(c))
	if s == "" {
		return 0, "", fmt.Errorf("chat_id is empty")
	}
	if strings.HasPrefix(s, "@") {
		name := strings.TrimPrefix(s, "@")
		if name == "" {
			return 0, "", fmt.Errorf("chat_id %q: empty username", s)
		}
		return 0, name, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("chat_id %q: want a number or @username", s)
	}
	if id == 0 {
		return 0, "", fmt.Errorf("chat_id must not be 0")
	}
	return id, "", nil
}

// ServerConfig controls the inbound HTTP listener.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"` // default: 1 MiB

	ReadTimeout  string `json:"read_timeout,omitempty"`  // default: "15s"
	WriteTimeout string `json:"write_timeout,omitempty"` // default: "30s"
	IdleTimeout  string `json:"idle_timeout,omitempty"`  // default: "60s"

	Pprof PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig mounts net/http/pprof on the main listener.
//
// Security note:
//   - The listener is usually public (TradingView must reach it); set a token.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token   string `json:"token,omitempty"`  // bearer or ?token= (do not log)
}

type WebhookConfig struct {
	Secret string `json:"secret"`
}

type DedupConfig struct {
	Window  string `json:"window,omitempty"`  // default: "5s"
	Horizon string `json:"horizon,omitempty"` // default: "60s"
}

type NotifierConfig struct {
	Timeout    string `json:"timeout,omitempty"` // default: "10s"
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional alert audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tvrelay.db", "retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver"` // none | file | sqlite
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Retention drops audit records older than this. "0s" keeps everything.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec (robfig/cron syntax, e.g. "@every 1h").
	PruneSchedule string `json:"prune_schedule,omitempty"`
}
