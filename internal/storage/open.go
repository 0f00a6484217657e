package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "tvrelay/pkg/logx"
)

// Store is the persistence API used by the audit recorder.
type Store interface {
	AppendAlert(ctx context.Context, r AlertRecord) error
	// PruneBefore deletes records older than cutoff and reports how many went.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Recent returns up to limit newest records, oldest first.
	Recent(ctx context.Context, limit int) ([]AlertRecord, error)
	Close() error
}

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the store for cfg.Driver, or (nil, nil) when the driver is
// empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := open(cfg, log.With(logx.String("driver", name)))
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", name, err)
	}
	return st, nil
}
