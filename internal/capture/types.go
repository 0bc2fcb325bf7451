package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAcquire  = errors.New("frame acquire failed")
	ErrClassify = errors.New("frame classify failed")
	ErrPersist  = errors.New("frame persist failed")

	ErrUnsupportedExt = errors.New("unsupported frame extension")
)

// NormalizeExt maps a frame encoding to the extension frames are stored
// under: "jpg" (also for "", "jpeg", ".JPG") or "png".
func NormalizeExt(ext string) (string, error) {
	switch e := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")); e {
	case "", "jpg", "jpeg":
		return "jpg", nil
	case "png":
		return "png", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExt, ext)
	}
}

// Frame is one encoded image as produced by the device.
type Frame struct {
	Data []byte
	// Ext is the file extension without the dot ("jpg" when empty).
	Ext string
}

// Source produces frames.
type Source interface {
	Acquire(ctx context.Context) (Frame, error)
}

// Metric returns the light level of a frame in [0,1].
type Metric interface {
	LightLevel(f Frame) (float64, error)
}

// MetricFunc adapts a function to Metric.
type MetricFunc func(f Frame) (float64, error)

func (fn MetricFunc) LightLevel(f Frame) (float64, error) { return fn(f) }

// FrameStore keeps accepted frames.
type FrameStore interface {
	Persist(ctx context.Context, name string, f Frame) error
	// List returns stored frame names sorted ascending.
	List() ([]string, error)
}

// Consolidator folds stored frames into the archive and the video.
// Trigger must return without waiting for that work.
type Consolidator interface {
	Trigger(ctx context.Context)
}

// FilenameLayout is the timestamp layout used in frame names.
const FilenameLayout = "2006-01-02_15:04:05"

// Filename returns the frame name for a capture taken at ts. Supported
// extensions are normalized; others are kept as given.
func Filename(ts time.Time, ext string) string {
	e, err := NormalizeExt(ext)
	if err != nil {
		e = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	}
	return "img_" + ts.Format(FilenameLayout) + "." + e
}

// Descriptor describes the most recent capture attempt: the time of the
// latest accepted frame and whether night has been observed since.
type Descriptor struct {
	Time  time.Time
	Day   bool
	Night bool
}

func (d Descriptor) IsZero() bool { return d.Time.IsZero() && !d.Day && !d.Night }

func (d Descriptor) String() string {
	var parts []string
	if !d.Time.IsZero() {
		parts = append(parts, d.Time.Format(FilenameLayout))
	}
	if d.Day {
		parts = append(parts, "day")
	}
	if d.Night {
		parts = append(parts, "night")
	}
	return strings.Join(parts, ", ")
}

// Stats is a read-only view of the pipeline counters.
type Stats struct {
	FrameCount     int
	Last           Descriptor
	LastFile       string
	Accepted       uint64
	Rejected       uint64
	Failed         uint64
	Consolidations uint64
	LastLevel      float64
}

// FrameEvent is published on the event bus for capture outcomes.
type FrameEvent struct {
	File       string  `json:"file,omitempty"`
	Level      float64 `json:"level"`
	Threshold  float64 `json:"threshold"`
	FrameCount int     `json:"frame_count"`
	Error      string  `json:"error,omitempty"`
}
