package app

import (
	"context"
	"time"

	logx "tvrelay/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

const (
	readyState    = daemon.SdNotifyReady
	stoppingState = daemon.SdNotifyStopping
)

// notifyFunc reports whether the state reached the service manager.
type notifyFunc func(state string) (bool, error)

// sdNotify is a no-op (false, nil) outside systemd (NOTIFY_SOCKET unset).
func sdNotify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// runWatchdog pings the systemd watchdog at half the configured interval.
// It returns immediately when WatchdogSec is not set for the unit.
func runWatchdog(ctx context.Context, notify notifyFunc, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval / 2)
	defer tick.Stop()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := notify(daemon.SdNotifyWatchdog); err != nil {
				log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}
