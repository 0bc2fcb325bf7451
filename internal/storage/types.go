package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON list of [identity, unix seconds] pairs (the default)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the schedule only
// lives in memory.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the persisted last-run time of one scheduled event.
// A zero LastRun means the event never ran.
type Record struct {
	Identity string
	LastRun  time.Time
}
