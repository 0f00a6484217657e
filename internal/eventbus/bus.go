// Package eventbus is an in-process fanout of pipeline events.
//
// Publish never blocks: each subscriber has its own buffer and an event that
// does not fit is dropped for that subscriber only (and counted).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the relay pipeline.
const (
	AlertRejected = "alert.rejected"
	AlertIgnored  = "alert.ignored"
	AlertRelayed  = "alert.relayed"
	AlertFailed   = "alert.failed"

	NotifySent   = "notify.sent"
	NotifyFailed = "notify.failed"
)

// Event carries one pipeline signal. Data is owned by the publisher's package
// (webhook.Outcome for alert.*, notifier.NotificationEvent for notify.*).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

type subscriber struct {
	ch chan Event
}

// Memory is the in-memory Bus. It owns no goroutines.
type Memory struct {
	// Sends happen under the read lock and unsubscribe closes under the write
	// lock, so a send never races a close.
	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	dropped atomic.Uint64
}

func New() *Memory {
	return &Memory{subs: map[*subscriber]struct{}{}}
}

func (b *Memory) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Memory) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

// Dropped is the number of deliveries lost to full subscriber buffers since New.
func (b *Memory) Dropped() uint64 { return b.dropped.Load() }
