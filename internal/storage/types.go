package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AlertRecord is one webhook request outcome.
// Keep it compact and schema-stable.
type AlertRecord struct {
	At          time.Time `json:"at"`
	RequestID   string    `json:"request_id"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Status      string    `json:"status"`
	Text        string    `json:"text,omitempty"`
	Error       string    `json:"error,omitempty"`
	Remote      string    `json:"remote,omitempty"`
}
