// Package dedup suppresses repeated webhook bodies inside a short window.
//
// Entries are keyed by a SHA-256 fingerprint of the raw body and swept lazily on
// every call: there is no background timer, and the store never holds entries
// older than the sweep horizon after a call returns.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	DefaultWindow  = 5 * time.Second
	DefaultHorizon = 60 * time.Second
)

// Fingerprint is the digest of a raw request body.
type Fingerprint [sha256.Size]byte

// Sum fingerprints body. An empty body has a fixed fingerprint like any other.
func Sum(body []byte) Fingerprint { return sha256.Sum256(body) }

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// Outcome is the result of CheckAndRecord.
type Outcome int

const (
	Fresh Outcome = iota
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "fresh"
}

// Cache is a time-windowed set of recently seen fingerprints. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	window  time.Duration
	horizon time.Duration
	seen    map[Fingerprint]time.Time
}

// New returns a cache that reports duplicates within window and forgets entries
// older than horizon. Non-positive values fall back to the defaults.
func New(window, horizon time.Duration) *Cache {
	c := &Cache{seen: map[Fingerprint]time.Time{}}
	c.Apply(window, horizon)
	return c
}

// Apply changes the windows at runtime. Existing entries are kept.
func (c *Cache) Apply(window, horizon time.Duration) {
	if window <= 0 {
		window = DefaultWindow
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if horizon < window {
		horizon = window
	}
	c.mu.Lock()
	c.window = window
	c.horizon = horizon
	c.mu.Unlock()
}

// CheckAndRecord reports whether fp was seen less than one window before now.
// A duplicate does not refresh the stored timestamp. Stale entries are swept on
// every call regardless of the outcome.
func (c *Cache) CheckAndRecord(fp Fingerprint, now time.Time) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Fresh
	if last, ok := c.seen[fp]; ok && now.Sub(last) < c.window {
		out = Duplicate
	} else {
		c.seen[fp] = now
	}

	for k, last := range c.seen {
		if now.Sub(last) > c.horizon {
			delete(c.seen, k)
		}
	}
	return out
}

// Len returns the number of tracked fingerprints.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
