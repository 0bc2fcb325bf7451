package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"timelapse/internal/capture"
	"timelapse/internal/consolidate"
	"timelapse/internal/frames"
	"timelapse/internal/runtime/supervisor"
	"timelapse/internal/task/scheduler"
	logx "timelapse/pkg/logx"
)

// Status is a point-in-time view of the whole app.
type Status struct {
	UpdatedAt   time.Time              `json:"updated_at"`
	LastFrame   string                 `json:"last_frame"`
	FrameCount  int                    `json:"frame_count"`
	Images      int                    `json:"images"`
	LatestImage string                 `json:"latest_image,omitempty"`
	Disk        frames.Usage           `json:"disk"`
	DiskErr     string                 `json:"disk_err,omitempty"`
	Capture     capture.Stats          `json:"capture"`
	Consolidate []consolidate.OpStatus `json:"consolidate,omitempty"`
	Scheduler   scheduler.Snapshot     `json:"scheduler"`
	Supervisor  *supervisor.Snapshot   `json:"supervisor,omitempty"`
}

type statusCache struct {
	mu sync.Mutex
	st Status
	ok bool
}

// Status collects a fresh view.
func (a *App) Status() Status {
	st := Status{
		UpdatedAt: time.Now(),
		Scheduler: a.sched.Snapshot(),
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		st.Supervisor = &snap
	}
	if a.pipe != nil {
		st.Capture = a.pipe.Stats()
		st.LastFrame = st.Capture.Last.String()
		st.FrameCount = st.Capture.FrameCount
		if names, err := a.pipe.Filenames(); err != nil {
			a.log.Warn("listing frames failed", logx.Err(err))
		} else {
			st.Images = len(names)
			if len(names) > 0 {
				st.LatestImage = names[len(names)-1]
			}
		}
	}
	if a.frames != nil {
		if u, err := a.frames.DiskUsage(); err != nil {
			st.DiskErr = err.Error()
		} else {
			st.Disk = u
		}
	}
	if a.cons != nil {
		st.Consolidate = a.cons.Status()
	}
	return st
}

// LastStatus returns the view cached by the periodic status event.
func (a *App) LastStatus() (Status, bool) {
	a.status.mu.Lock()
	defer a.status.mu.Unlock()
	return a.status.st, a.status.ok
}

// refreshStatus is the work of the status event.
func (a *App) refreshStatus(context.Context) error {
	st := a.Status()
	a.status.mu.Lock()
	a.status.st, a.status.ok = st, true
	a.status.mu.Unlock()

	fields := []logx.Field{
		logx.Int("images", st.Images),
		logx.Int("buffered", st.FrameCount),
		logx.String("last_frame", st.LastFrame),
	}
	if st.DiskErr == "" && st.Disk.Total > 0 {
		fields = append(fields,
			logx.String("disk_free", humanize.IBytes(st.Disk.Avail)),
			logx.String("disk_used", fmt.Sprintf("%.1f%%", st.Disk.Percent())),
		)
	}
	a.log.Info("status", fields...)
	a.sd.Status(fmt.Sprintf("%d images, last %s", st.Images, orNone(st.LastFrame)))
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// Inspect loads the config and persisted schedule without starting anything.
func Inspect(ctx context.Context, cfgPath string) (Status, error) {
	a, err := newApp(cfgPath, true)
	if err != nil {
		return Status{}, err
	}
	defer a.Close()
	if err := a.sched.Load(ctx); err != nil {
		return Status{}, err
	}
	return a.Status(), nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
