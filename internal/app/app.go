// Package app wires the relay together: configuration, logging, the Telegram
// client, the webhook pipeline, the HTTP listener and the optional audit log.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tvrelay/internal/audit"
	"tvrelay/internal/config"
	"tvrelay/internal/dedup"
	"tvrelay/internal/eventbus"
	"tvrelay/internal/httpserver"
	"tvrelay/internal/notifier"
	rtsup "tvrelay/internal/runtime/supervisor"
	"tvrelay/internal/secret"
	"tvrelay/internal/storage"
	kit "tvrelay/internal/transport"
	telegram "tvrelay/internal/transport/telegram/adapter"
	"tvrelay/internal/webhook"
	logx "tvrelay/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.Memory

	sender kit.Sender
	store  storage.Store

	secret    *secret.Validator
	dedup     *dedup.Cache
	notif     *notifier.Service
	hook      *webhook.Handler
	http      *httpserver.Service
	audit     *audit.Recorder
	retention *audit.Retention
	notify    notifyFunc
}

type Option func(*options)

type options struct {
	sender    kit.Sender
	envLookup func(string) (string, bool)
	notify    notifyFunc
}

// WithSender replaces the Telegram client (tests, dry runs).
func WithSender(s kit.Sender) Option { return func(o *options) { o.sender = s } }

// WithEnvLookup replaces os.LookupEnv for the environment overlay.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(o *options) { o.envLookup = fn }
}

func withNotify(fn notifyFunc) Option { return func(o *options) { o.notify = fn } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.envLookup != nil {
		cfgm.SetEnvLookup(o.envLookup)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		tgTimeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:   cfg.Telegram.Token,
			Timeout: tgTimeout,
		}, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = ad
	}

	target, err := mapTarget(cfg)
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(mapLogging(cfg), sender, target)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	st, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(st.store, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", st.store.Driver))
	}

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, sender, log, bus)

	window, horizon, err := mapDedup(cfg)
	if err != nil {
		return nil, err
	}
	dd := dedup.New(window, horizon)
	sec := secret.New(cfg.Webhook.Secret)

	hook := webhook.New(webhook.Options{
		Secret:       sec,
		Dedup:        dd,
		Notifier:     notif,
		Bus:          bus,
		Log:          log,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	scfg, err := mapServer(cfg)
	if err != nil {
		return nil, err
	}
	httpSvc := httpserver.New(scfg, hook.Register, log)

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		sender: sender,
		store:  store,
		secret: sec,
		dedup:  dd,
		notif:  notif,
		hook:   hook,
		http:   httpSvc,
		notify: o.notify,
	}
	if a.notify == nil {
		a.notify = sdNotify
	}
	if store != nil {
		a.audit = audit.NewRecorder(store, bus, log)
		a.retention, err = audit.NewRetention(store, st.retention, st.schedule, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return a, nil
}

// Addr returns the bound HTTP address ("" before Start).
func (a *App) Addr() string { return a.http.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	if a.audit != nil {
		a.sup.Go0("audit.record", a.audit.Run)
	}
	if a.retention != nil && a.retention.Enabled() {
		a.retention.Start(a.sup.Context())
	}

	if err := a.http.Start(a.sup.Context()); err != nil {
		return err
	}

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.logBanner(a.cfgm.Get())
	a.sup.Go0("systemd.watchdog", func(c context.Context) { runWatchdog(c, a.notify, a.log) })
	if sent, err := a.notify(readyState); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated config into the live components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range config.NeedsRestart(sections) {
		a.log.Warn("config section changed; restart required for it to take full effect", logx.String("section", s))
	}

	a.logs.Apply(mapLogging(next))
	a.secret.SetSecret(next.Webhook.Secret)
	a.hook.SetMaxBodyBytes(next.Server.MaxBodyBytes)

	if window, horizon, err := mapDedup(next); err != nil {
		a.log.Warn("invalid dedup config; keeping previous", logx.Err(err))
	} else {
		a.dedup.Apply(window, horizon)
	}
	if ncfg, err := mapNotifier(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if scfg, err := mapServer(next); err != nil {
		a.log.Warn("invalid server config; keeping previous", logx.Err(err))
	} else if err := a.http.Reconfigure(ctx, scfg); err != nil {
		a.log.Error("http reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.notify(stoppingState); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Stop accepting webhooks before the run context goes away so in-flight
	// sends can finish.
	a.step(ctx, "http", 5*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })

	a.sup.Cancel()

	a.step(ctx, "retention", 1*time.Second, func(c context.Context) error {
		if a.retention != nil {
			return a.retention.Stop(c)
		}
		return nil
	})
	// supervised goroutines (audit writer drains here)
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Int64("events_dropped", int64(a.bus.Dropped())))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs a shutdown step with an upper bound so one component can't stall
// the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
