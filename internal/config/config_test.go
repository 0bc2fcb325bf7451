package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "scheduler": {"save_interval": "15m"},
  "storage": {"driver": "file", "path": "./events.txt"},
  "capture": {
    "interval": "00:15",
    "light_level": 60,
    "buffer_size": 50,
    "source": {"driver": "command", "command": ["fswebcam", "-q", "-"]}
  },
  "consolidate": {"video": {"frame_rate": 25}},
  "status": {"interval": "5m"},
  "systemd": {"notify": true, "watchdog": false}
}`

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
scheduler:
  save_interval: 15m
storage:
  driver: file
  path: ./events.txt
capture:
  interval: "00:15"
  light_level: 60
  buffer_size: 50
  source:
    driver: command
    command: [fswebcam, -q, "-"]
consolidate:
  video:
    frame_rate: 25
status:
  interval: 5m
systemd:
  notify: true
  watchdog: false
`

const sampleTOML = `
[logging]
level = "debug"
console = true
[logging.file]
enabled = false
path = ""

[scheduler]
save_interval = "15m"

[storage]
driver = "file"
path = "./events.txt"

[capture]
interval = "00:15"
light_level = 60
buffer_size = 50
[capture.source]
driver = "command"
command = ["fswebcam", "-q", "-"]

[consolidate.video]
frame_rate = 25

[status]
interval = "5m"

[systemd]
notify = true
watchdog = false
`

func TestDecodeFormatsAgree(t *testing.T) {
	j, err := Decode("c.json", []byte(sampleJSON))
	require.NoError(t, err)
	y, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	tm, err := Decode("c.toml", []byte(sampleTOML))
	require.NoError(t, err)

	require.Equal(t, j, y)
	require.Equal(t, j, tm)

	require.Equal(t, "debug", j.Logging.Level)
	require.Equal(t, []string{"fswebcam", "-q", "-"}, j.Capture.Source.Command)
	require.NotNil(t, j.Capture.LightLevel)
	require.Equal(t, 60.0, *j.Capture.LightLevel)
	require.Equal(t, "file", j.Storage.Driver)
	require.True(t, j.Systemd.Notify)
}

func TestDecodeStrict(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"capture": {"light": 5}}`))
	require.Error(t, err)

	_, err = Decode("c.yaml", []byte("telegram:\n  token: x\n"))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{} {}`))
	require.Error(t, err)

	_, err = Decode("c.toml", []byte(`[capture`))
	require.Error(t, err)
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", "00:15")
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, d)

	d, err = ParseDurationField("x", "1h30m")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	d, err = ParseDurationField("x", " ")
	require.NoError(t, err)
	require.Zero(t, d)

	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)
	_, err = ParseDurationField("x", "01:61")
	require.Error(t, err)

	d, err = ParseDurationOrDefault("x", "", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, d)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg, err := Decode("c.json", []byte(sampleJSON))
	require.NoError(t, err)
	newCfg, err := Decode("c.json", []byte(sampleJSON))
	require.NoError(t, err)

	sections, _ := SummarizeConfigChange(oldCfg, newCfg)
	require.Empty(t, sections)

	lvl := 40.0
	newCfg.Capture.LightLevel = &lvl
	newCfg.Logging.Level = "info"
	newCfg.Capture.Interval = "10m"
	newCfg.Storage.Path = "./state.db"

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"capture", "capture.timing", "logging", "storage"}, sections)
	require.NotEmpty(t, attrs)
	require.Equal(t, []string{"capture.timing", "storage"}, RestartRequired(sections))
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, sampleJSON)

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Capture.BufferSize < 0 {
			return errors.New("capture.buffer_size must be >= 0")
		}
		return nil
	})

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, `{"capture": {"buffer_size": -1}}`)
	time.Sleep(600 * time.Millisecond)
	require.Len(t, sub, 0)
	require.Equal(t, 50, m.Get().Capture.BufferSize)

	writeFile(t, path, `{"capture": {"buffer_size": 7}}`)
	select {
	case cfg := <-sub:
		require.Equal(t, 7, cfg.Capture.BufferSize)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	require.Equal(t, 7, m.Get().Capture.BufferSize)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return")
	}
}
