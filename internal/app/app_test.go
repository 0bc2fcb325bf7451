package app

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"timelapse/internal/config"
	"timelapse/internal/task/engine"
)

func writePNG(t *testing.T, path string, c color.Gray) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

type fixture struct {
	dir     string
	cfgPath string
	srcDir  string
	frames  string
	archive string
	events  string
}

func newFixture(t *testing.T, shade color.Gray) fixture {
	t.Helper()
	dir := t.TempDir()
	fx := fixture{
		dir:     dir,
		cfgPath: filepath.Join(dir, "config.json"),
		srcDir:  filepath.Join(dir, "camera"),
		frames:  filepath.Join(dir, "imgs"),
		archive: filepath.Join(dir, "images.zip"),
		events:  filepath.Join(dir, "events.txt"),
	}
	require.NoError(t, os.MkdirAll(fx.srcDir, 0o755))
	writePNG(t, filepath.Join(fx.srcDir, "frame.png"), shade)

	cfg := map[string]any{
		"logging":   map[string]any{"level": "error"},
		"scheduler": map[string]any{"save_interval": "1h"},
		"storage":   map[string]any{"driver": "file", "path": fx.events},
		"capture": map[string]any{
			"interval":      "1h",
			"light_level":   50,
			"buffer_size":   1,
			"backoff":       "10ms",
			"ready_backoff": "10ms",
			"frames_dir":    fx.frames,
			"source":        map[string]any{"driver": "dir", "dir": fx.srcDir},
		},
		"consolidate": map[string]any{
			"archive": map[string]any{"path": fx.archive},
			"video":   map[string]any{"enabled": false},
		},
		"status": map[string]any{"interval": "1h"},
	}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fx.cfgPath, b, 0o644))
	return fx
}

func TestResolveDefaults(t *testing.T) {
	set, err := resolve(&config.Config{})
	require.NoError(t, err)

	require.True(t, set.storageOn)
	require.Equal(t, "file", set.storage.Driver)
	require.Equal(t, defaultEventsPath, set.storage.Path)
	require.True(t, set.capture.enabled)
	require.Equal(t, 15*time.Minute, set.capture.interval)
	require.Equal(t, engine.OverlapSkipIfRunning, set.capture.overlap)
	require.Equal(t, 0.6, set.capture.pipeline.Threshold)
	require.Equal(t, defaultFramesDir, set.capture.framesDir)
	require.Equal(t, "command", set.capture.source.driver)
	require.Equal(t, defaultCaptureCommand, set.capture.source.argv)

	require.NotNil(t, set.archive)
	require.Equal(t, defaultArchivePath, set.archive.Output)
	require.NotNil(t, set.video)
	require.Equal(t, defaultVideoPath, set.video.Output)
	require.Nil(t, set.s3)

	require.True(t, set.statusOn)
	require.Equal(t, 5*time.Minute, set.statusEvery)
}

func TestResolveAcceptsLegacyIntervals(t *testing.T) {
	set, err := resolve(&config.Config{
		Capture: config.CaptureConfig{Interval: "00:15", Overlap: "allow"},
		Status:  config.StatusConfig{Interval: "@every 30s"},
	})
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, set.capture.interval)
	require.Equal(t, engine.OverlapAllow, set.capture.overlap)
	require.Equal(t, 30*time.Second, set.statusEvery)
}

func TestResolveStorageOptOut(t *testing.T) {
	set, err := resolve(&config.Config{Storage: &config.StorageConfig{Driver: "none"}})
	require.NoError(t, err)
	require.False(t, set.storageOn)

	set, err = resolve(&config.Config{Storage: &config.StorageConfig{Path: "/var/lib/timelapse/events.txt"}})
	require.NoError(t, err)
	require.True(t, set.storageOn)
	require.Equal(t, "file", set.storage.Driver)
	require.Equal(t, "/var/lib/timelapse/events.txt", set.storage.Path)
}

func TestResolveRejectsInvalid(t *testing.T) {
	cases := map[string]config.Config{
		"storage driver": {Storage: &config.StorageConfig{Driver: "redis"}},
		"sqlite path":    {Storage: &config.StorageConfig{Driver: "sqlite"}},
		"interval":       {Capture: config.CaptureConfig{Interval: "*/5 * * * *"}},
		"overlap":        {Capture: config.CaptureConfig{Overlap: "queue"}},
		"buffer":         {Capture: config.CaptureConfig{BufferSize: -1}},
		"dir source":     {Capture: config.CaptureConfig{Source: config.SourceConfig{Driver: "dir"}}},
		"source driver":  {Capture: config.CaptureConfig{Source: config.SourceConfig{Driver: "v4l2"}}},
		"source ext":     {Capture: config.CaptureConfig{Source: config.SourceConfig{Ext: "bmp"}}},
		"s3 bucket":      {Consolidate: config.ConsolidateConfig{S3: &config.S3Config{Enabled: true}}},
		"log level":      {Logging: config.LoggingConfig{Level: "loud"}},
		"status":         {Status: config.StatusConfig{Interval: "0"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := resolve(&cfg)
			require.Error(t, err)
		})
	}
}

func TestAppCapturesAndConsolidates(t *testing.T) {
	fx := newFixture(t, color.Gray{Y: 250})

	a, err := NewApp(fx.cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, err := os.Stat(fx.archive)
		return a.Pipeline().Stats().Accepted >= 1 && err == nil
	}, 5*time.Second, 10*time.Millisecond)

	st := a.Status()
	require.Equal(t, 1, st.Images)
	require.Equal(t, 0, st.FrameCount)
	require.Contains(t, st.LastFrame, "day")
	require.True(t, strings.HasSuffix(st.LatestImage, ".png"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))

	b, err := os.ReadFile(fx.events)
	require.NoError(t, err)
	require.Contains(t, string(b), `"capture"`)
	require.Contains(t, string(b), `"status"`)
}

func TestAppNightFrameIsNotStored(t *testing.T) {
	fx := newFixture(t, color.Gray{Y: 5})

	a, err := NewApp(fx.cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool {
		return a.Pipeline().Stats().Rejected >= 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))

	st := a.Status()
	require.Equal(t, 0, st.Images)
	require.Equal(t, "night", st.LastFrame)
	_, err = os.Stat(fx.archive)
	require.True(t, os.IsNotExist(err))
}

func TestAppStopsOnSupervisedFailure(t *testing.T) {
	fx := newFixture(t, color.Gray{Y: 250})

	a, err := NewApp(fx.cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	a.sup.Go("broken", func(context.Context) error { return errors.New("disk gone") })
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("app kept running after a supervised failure")
	}
	require.ErrorContains(t, a.Err(), "disk gone")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(ctx, StopFatalError)
}

func TestInspectReadsPersistedSchedule(t *testing.T) {
	fx := newFixture(t, color.Gray{Y: 250})
	require.NoError(t, os.WriteFile(fx.events, []byte(`[["capture", 1700000000.5]]`), 0o644))

	st, err := Inspect(context.Background(), fx.cfgPath)
	require.NoError(t, err)

	var found bool
	for _, ev := range st.Scheduler.Events {
		if ev.Identity == CaptureEvent {
			found = true
			require.True(t, ev.LastRun.Equal(time.UnixMilli(1700000000500)), ev.LastRun)
			require.True(t, ev.NextDue.Equal(ev.LastRun.Add(time.Hour)))
		}
	}
	require.True(t, found)
	require.Nil(t, st.Supervisor)
}
