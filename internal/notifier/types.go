package notifier

import (
	"time"

	kit "tvrelay/internal/transport"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRatePerSec = 3
	historyLimit      = 100
)

// Config controls delivery of relayed alerts.
type Config struct {
	Target         kit.ChatTarget
	ParseMode      string
	DisablePreview bool
	Timeout        time.Duration
	RatePerSec     int
}

// Result is the outcome of one Send.
type Result struct {
	OK     bool
	Reason string
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is emitted on the event bus for every send attempt.
type NotificationEvent struct {
	ChatID   int64         `json:"chat_id"`
	ThreadID int           `json:"thread_id,omitempty"`
	Chars    int           `json:"chars"`
	Took     time.Duration `json:"took"`
	At       time.Time     `json:"at"`
	Error    string        `json:"error,omitempty"`
}
