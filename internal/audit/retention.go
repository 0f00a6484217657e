package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tvrelay/internal/storage"
	logx "tvrelay/pkg/logx"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

const DefaultPruneSchedule = "@every 1h"

// Retention deletes audit records older than MaxAge on a cron schedule.
type Retention struct {
	store  storage.Store
	maxAge time.Duration
	spec   string
	log    logx.Logger
	now    func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

// NewRetention validates spec (robfig/cron syntax, descriptors allowed).
// maxAge <= 0 disables pruning.
func NewRetention(store storage.Store, maxAge time.Duration, spec string, log logx.Logger) (*Retention, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultPruneSchedule
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("prune schedule %q: %w", spec, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retention{
		store:  store,
		maxAge: maxAge,
		spec:   spec,
		log:    log.With(logx.String("comp", "retention")),
		now:    time.Now,
	}, nil
}

func (r *Retention) Enabled() bool { return r.store != nil && r.maxAge > 0 }

// Start schedules pruning. It is a no-op when disabled or already started.
func (r *Retention) Start(ctx context.Context) {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.c = cron.New()
	_, err := r.c.AddFunc(r.spec, func() {
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := r.PruneOnce(pctx); err != nil {
			r.log.Warn("audit prune failed", logx.Err(err))
		}
	})
	if err != nil {
		// spec was validated in NewRetention
		r.log.Error("schedule audit prune", logx.Err(err))
		r.c = nil
		return
	}
	r.c.Start()
	r.log.Info("audit retention started",
		logx.String("schedule", r.spec),
		logx.String("keep", strings.TrimSpace(humanize.RelTime(r.now().Add(-r.maxAge), r.now(), "", ""))),
	)
}

// Stop waits for a running prune to finish or ctx to end.
func (r *Retention) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PruneOnce deletes records older than now - maxAge.
func (r *Retention) PruneOnce(ctx context.Context) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("audit records pruned", logx.Int("count", n), logx.Time("cutoff", cutoff))
	} else {
		r.log.Debug("audit prune: nothing to do", logx.Time("cutoff", cutoff))
	}
	return n, nil
}
