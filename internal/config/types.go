package config

// Config is the on-disk configuration. JSON, YAML and TOML files share the
// same keys; unknown keys are rejected.
//
// Durations are Go duration strings ("15m", "1s") or HH:MM ("00:15").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Capture     CaptureConfig     `json:"capture"`
	Consolidate ConsolidateConfig `json:"consolidate"`
	Status      StatusConfig      `json:"status"`
	Systemd     SystemdConfig     `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the tick loop and its built-in housekeeping event.
//
// Defaults:
//   - default_tick: "10s" (used only while nothing is registered)
//   - save_interval: "15m"
//   - history_size: 200
type SchedulerConfig struct {
	DefaultTick  string `json:"default_tick,omitempty"`
	SaveInterval string `json:"save_interval,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// StorageConfig selects where last-run times are persisted.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./events.txt" }
//
// Omitting the section persists to ./events.txt; driver "none" keeps the
// schedule in memory only.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// CaptureConfig controls the capture event and its pipeline.
//
// Defaults:
//   - interval: "15m"
//   - overlap: "skip"
//   - light_level: 60 (percent, clamped to 0..100)
//   - buffer_size: 50
//   - attempts: 10, backoff: "1s"
//   - frames_dir: "static/data/imgs"
type CaptureConfig struct {
	Enabled      *bool        `json:"enabled,omitempty"`
	Interval     string       `json:"interval,omitempty"`
	Overlap      string       `json:"overlap,omitempty"`
	LightLevel   *float64     `json:"light_level,omitempty"`
	BufferSize   int          `json:"buffer_size,omitempty"`
	Attempts     int          `json:"attempts,omitempty"`
	Backoff      string       `json:"backoff,omitempty"`
	ReadyBackoff string       `json:"ready_backoff,omitempty"`
	FramesDir    string       `json:"frames_dir,omitempty"`
	Source       SourceConfig `json:"source"`
}

// SourceConfig selects the frame source.
//
//   - driver "command": run Command, which must write one image to stdout
//   - driver "dir": replay images from Dir
type SourceConfig struct {
	Driver  string   `json:"driver"`
	Command []string `json:"command,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
	Ext     string   `json:"ext,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

// ConsolidateConfig controls the artifacts rebuilt when the frame buffer fills.
type ConsolidateConfig struct {
	Archive ArchiveConfig `json:"archive"`
	Video   VideoConfig   `json:"video"`
	S3      *S3Config     `json:"s3,omitempty"`
}

type ArchiveConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"` // default: static/data/images.zip
}

type VideoConfig struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	Path      string   `json:"path,omitempty"`   // default: static/data/video.webm
	FFmpeg    string   `json:"ffmpeg,omitempty"` // default: ffmpeg
	FrameRate int      `json:"frame_rate,omitempty"`
	Codec     string   `json:"codec,omitempty"`
	PixFmt    string   `json:"pix_fmt,omitempty"`
	ExtraArgs []string `json:"extra_args,omitempty"`
}

// S3Config publishes rebuilt artifacts to an S3-compatible bucket.
// Credentials come from the default AWS chain (env, shared config, IMDS).
type S3Config struct {
	Enabled  bool   `json:"enabled"`
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// StatusConfig controls the periodic status event.
type StatusConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval,omitempty"` // default: 5m
}

// SystemdConfig controls sd_notify integration. Both are no-ops outside systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}

// BoolOr returns *b, or def when b is nil.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
