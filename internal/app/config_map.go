package app

import (
	"fmt"
	"strings"
	"time"

	"timelapse/internal/capture"
	"timelapse/internal/config"
	"timelapse/internal/consolidate"
	"timelapse/internal/storage"
	"timelapse/internal/task/engine"
	"timelapse/internal/task/scheduler"
	logx "timelapse/pkg/logx"
)

const (
	defaultFramesDir    = "static/data/imgs"
	defaultArchivePath  = "static/data/images.zip"
	defaultVideoPath    = "static/data/video.webm"
	defaultEventsPath   = "events.txt"
	defaultCaptureEvery = 15 * time.Minute
	defaultStatusEvery  = 5 * time.Minute
	defaultLightLevel   = 60
)

// defaultCaptureCommand grabs one 1280x720 JPEG from the first V4L2 device.
var defaultCaptureCommand = []string{"fswebcam", "-q", "--no-banner", "-r", "1280x720", "--jpeg", "95", "-"}

// settings is the validated, typed view of a config.Config.
type settings struct {
	logging   logx.Config
	scheduler scheduler.Config
	history   int

	storage   storage.Config
	storageOn bool

	capture captureSettings
	archive *consolidate.ZipArchive
	video   *consolidate.FFmpegVideo
	s3      *consolidate.S3Config

	statusOn    bool
	statusEvery time.Duration

	systemd config.SystemdConfig
}

type captureSettings struct {
	enabled      bool
	interval     time.Duration
	overlap      engine.OverlapPolicy
	pipeline     capture.Config
	readyBackoff time.Duration
	framesDir    string
	source       sourceSettings
}

type sourceSettings struct {
	driver  string
	argv    []string
	timeout time.Duration
	ext     string
	dir     string
}

func resolve(cfg *config.Config) (settings, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	var s settings
	var err error

	if s.logging, err = mapLoggingConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.scheduler, s.history, err = mapSchedulerConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.storage, s.storageOn, err = mapStorageConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.capture, err = mapCaptureConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.archive, s.video, s.s3, err = mapConsolidateConfig(cfg); err != nil {
		return settings{}, err
	}

	s.statusOn = config.BoolOr(cfg.Status.Enabled, true)
	s.statusEvery = defaultStatusEvery
	if strings.TrimSpace(cfg.Status.Interval) != "" {
		p, err := scheduler.ParseInterval(cfg.Status.Interval)
		if err != nil {
			return settings{}, fmt.Errorf("status.interval: %w", err)
		}
		s.statusEvery = p.Every
	}
	s.systemd = cfg.Systemd
	return s, nil
}

func mapLoggingConfig(cfg *config.Config) (logx.Config, error) {
	lc := cfg.Logging
	if lvl := strings.TrimSpace(lc.Level); lvl != "" && !logx.ValidLevel(lvl) {
		return logx.Config{}, fmt.Errorf("logging.level: invalid %q", lc.Level)
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, int, error) {
	sc := cfg.Scheduler
	if sc.HistorySize < 0 {
		return scheduler.Config{}, 0, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	tick, err := config.ParseDurationOrDefault("scheduler.default_tick", sc.DefaultTick, scheduler.DefaultTick)
	if err != nil {
		return scheduler.Config{}, 0, err
	}
	save, err := config.ParseDurationOrDefault("scheduler.save_interval", sc.SaveInterval, scheduler.DefaultSaveInterval)
	if err != nil {
		return scheduler.Config{}, 0, err
	}
	return scheduler.Config{DefaultTick: tick, SaveInterval: save}, sc.HistorySize, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: defaultEventsPath}, true, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = defaultEventsPath
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func parseOverlap(path, raw string) (engine.OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "skip", "skip_if_running":
		return engine.OverlapSkipIfRunning, nil
	case "allow":
		return engine.OverlapAllow, nil
	default:
		return 0, fmt.Errorf("%s: invalid overlap %q (use skip or allow)", path, raw)
	}
}

func mapCaptureConfig(cfg *config.Config) (captureSettings, error) {
	cc := cfg.Capture
	out := captureSettings{
		enabled:   config.BoolOr(cc.Enabled, true),
		interval:  defaultCaptureEvery,
		framesDir: strings.TrimSpace(cc.FramesDir),
	}
	if out.framesDir == "" {
		out.framesDir = defaultFramesDir
	}
	if strings.TrimSpace(cc.Interval) != "" {
		p, err := scheduler.ParseInterval(cc.Interval)
		if err != nil {
			return captureSettings{}, fmt.Errorf("capture.interval: %w", err)
		}
		out.interval = p.Every
	}
	var err error
	if out.overlap, err = parseOverlap("capture.overlap", cc.Overlap); err != nil {
		return captureSettings{}, err
	}

	level := float64(defaultLightLevel)
	if cc.LightLevel != nil {
		level = *cc.LightLevel
	}
	if cc.BufferSize < 0 {
		return captureSettings{}, fmt.Errorf("capture.buffer_size must be >= 0")
	}
	if cc.Attempts < 0 {
		return captureSettings{}, fmt.Errorf("capture.attempts must be >= 0")
	}
	backoff, err := config.ParseDurationOrDefault("capture.backoff", cc.Backoff, capture.DefaultBackoff)
	if err != nil {
		return captureSettings{}, err
	}
	out.pipeline = capture.Config{
		Threshold: capture.ThresholdFromPercent(level),
		Buffer:    cc.BufferSize,
		Attempts:  cc.Attempts,
		Backoff:   backoff,
	}
	if out.readyBackoff, err = config.ParseDurationOrDefault("capture.ready_backoff", cc.ReadyBackoff, time.Second); err != nil {
		return captureSettings{}, err
	}

	src := cc.Source
	out.source.driver = strings.ToLower(strings.TrimSpace(src.Driver))
	if out.source.ext, err = capture.NormalizeExt(src.Ext); err != nil {
		return captureSettings{}, fmt.Errorf("capture.source.ext: %w", err)
	}
	switch out.source.driver {
	case "", "command":
		out.source.driver = "command"
		out.source.argv = src.Command
		if len(out.source.argv) == 0 {
			out.source.argv = defaultCaptureCommand
		}
		if out.source.timeout, err = config.ParseDurationOrDefault("capture.source.timeout", src.Timeout, 30*time.Second); err != nil {
			return captureSettings{}, err
		}
	case "dir":
		out.source.dir = strings.TrimSpace(src.Dir)
		if out.source.dir == "" {
			return captureSettings{}, fmt.Errorf("capture.source.dir is required when capture.source.driver=dir")
		}
	default:
		return captureSettings{}, fmt.Errorf("unknown capture.source.driver: %s", src.Driver)
	}
	return out, nil
}

func mapConsolidateConfig(cfg *config.Config) (*consolidate.ZipArchive, *consolidate.FFmpegVideo, *consolidate.S3Config, error) {
	cc := cfg.Consolidate

	var archive *consolidate.ZipArchive
	if config.BoolOr(cc.Archive.Enabled, true) {
		p := strings.TrimSpace(cc.Archive.Path)
		if p == "" {
			p = defaultArchivePath
		}
		archive = &consolidate.ZipArchive{Output: p}
	}

	var video *consolidate.FFmpegVideo
	if config.BoolOr(cc.Video.Enabled, true) {
		vc := cc.Video
		if vc.FrameRate < 0 {
			return nil, nil, nil, fmt.Errorf("consolidate.video.frame_rate must be >= 0")
		}
		p := strings.TrimSpace(vc.Path)
		if p == "" {
			p = defaultVideoPath
		}
		video = &consolidate.FFmpegVideo{
			Binary:    vc.FFmpeg,
			Output:    p,
			FrameRate: vc.FrameRate,
			Codec:     vc.Codec,
			PixFmt:    vc.PixFmt,
			ExtraArgs: vc.ExtraArgs,
		}
	}

	var s3 *consolidate.S3Config
	if cc.S3 != nil && cc.S3.Enabled {
		if strings.TrimSpace(cc.S3.Bucket) == "" {
			return nil, nil, nil, fmt.Errorf("consolidate.s3.bucket is required when s3 is enabled")
		}
		s3 = &consolidate.S3Config{
			Bucket:   cc.S3.Bucket,
			Prefix:   cc.S3.Prefix,
			Region:   cc.S3.Region,
			Endpoint: cc.S3.Endpoint,
		}
	}
	return archive, video, s3, nil
}

// Validate reports whether cfg would be accepted by NewApp or a hot reload.
func Validate(cfg *config.Config) error {
	_, err := resolve(cfg)
	return err
}
