// Package audit persists webhook outcomes and prunes them on a schedule.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"tvrelay/internal/eventbus"
	"tvrelay/internal/storage"
	"tvrelay/internal/webhook"
	logx "tvrelay/pkg/logx"
)

const (
	subscribeBuffer = 256
	writeTimeout    = 2 * time.Second
)

type Stats struct {
	Written uint64
	Failed  uint64
}

// Recorder copies alert.* events from the bus into a store.
type Recorder struct {
	store storage.Store
	log   logx.Logger

	events <-chan eventbus.Event
	unsub  func()

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder subscribes immediately so events published before Run are kept
// (up to the subscription buffer).
func NewRecorder(store storage.Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{store: store, log: log.With(logx.String("comp", "audit"))}
	if bus != nil {
		r.events, r.unsub = bus.Subscribe(subscribeBuffer)
	}
	return r
}

// Run consumes events until ctx is done, then flushes what is already buffered.
func (r *Recorder) Run(ctx context.Context) {
	if r.events == nil {
		<-ctx.Done()
		return
	}
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(context.Background(), ev)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(context.Background(), ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev eventbus.Event) {
	switch ev.Type {
	case eventbus.AlertRejected, eventbus.AlertIgnored, eventbus.AlertRelayed, eventbus.AlertFailed:
	default:
		return
	}
	out, ok := ev.Data.(webhook.Outcome)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.Record(cctx, out); err != nil {
		r.log.Warn("audit write failed", logx.Err(err), logx.String("req_id", out.RequestID))
	}
}

// Record writes one outcome.
func (r *Recorder) Record(ctx context.Context, out webhook.Outcome) error {
	if r.store == nil {
		return storage.ErrDisabled
	}
	err := r.store.AppendAlert(ctx, storage.AlertRecord{
		At:          out.At,
		RequestID:   out.RequestID,
		Fingerprint: out.Fingerprint,
		Status:      out.Status,
		Text:        out.Text,
		Error:       out.Error,
		Remote:      out.Remote,
	})
	if err != nil {
		r.failed.Add(1)
		return err
	}
	r.written.Add(1)
	return nil
}

func (r *Recorder) Stats() Stats {
	return Stats{Written: r.written.Load(), Failed: r.failed.Load()}
}
