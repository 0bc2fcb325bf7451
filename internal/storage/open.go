// Package storage persists the scheduler's last-run record so a restart
// resumes the schedule instead of firing every event at once.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "timelapse/pkg/logx"
)

// Store is the durable mapping from event identity to last-run time.
//
// SaveSchedule overwrites any prior record. LoadSchedule returns an empty
// slice and a nil error when nothing was saved yet.
type Store interface {
	LoadSchedule(ctx context.Context) ([]Record, error)
	SaveSchedule(ctx context.Context, recs []Record) error
	Close() error
}

var ErrUnknownDriver = errors.New("unknown storage driver")

// Open returns the store for cfg.Driver, or (nil, nil) for "" and "none":
// callers treat a nil Store as in-memory only.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
