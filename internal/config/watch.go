package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tvrelay/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	reloadDebounce = 250 * time.Millisecond
	validateBudget = 5 * time.Second
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

var errWatcherBroken = errors.New("config watcher closed")

// Watch reloads the config when the file changes until ctx is done. Events are
// debounced; a reload is published only when it parses, passes Validate and
// the optional validator, and differs from the active config. The fsnotify
// watcher is recreated with backoff if it breaks. Without a file path Watch
// just waits for ctx.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if strings.TrimSpace(m.path) == "" {
		<-ctx.Done()
		return nil
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() { m.reload(ctx) })
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	retry := watchRetryMin
	for {
		err := m.watchOnce(ctx, schedule)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errWatcherBroken) {
			// it ran fine for a while; start the backoff over
			retry = watchRetryMin
		}
		wait := retry + rand.N(retry/2+1)
		m.log.Warn("config watcher restarting", logx.String("path", m.path), logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		retry = min(retry*2, watchRetryMax)
	}
}

// watchOnce runs one fsnotify watcher on the config directory. Editors often
// replace the file (rename+create), so the directory is watched rather than
// the file itself.
func (m *ConfigManager) watchOnce(ctx context.Context, changed func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherBroken
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && !ev.Has(fsnotify.Chmod) {
				m.log.Debug("config change detected", logx.String("op", ev.Op.String()))
				changed()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errWatcherBroken
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// events were lost; reload to be safe
				m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
				changed()
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
			}
		}
	}
}

// reload parses, validates and publishes the file. Failures keep the active
// config.
func (m *ConfigManager) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed; keeping previous", logx.String("path", m.path), logx.Err(err))
		return
	}
	if m.sameAsActive(cfg) {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}
	if err := Validate(cfg); err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateBudget)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path))
}
