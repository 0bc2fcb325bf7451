package config

import (
	"reflect"
	"sort"
	"strings"

	logx "timelapse/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"scheduler":      true,
	"storage":        true,
	"capture.source": true,
	"capture.timing": true,
	"consolidate":    true,
	"status":         true,
	"systemd":        true,
}

// SummarizeConfigChange returns the sorted list of changed sections and safe
// structured attrs for logging (never credentials or endpoints with secrets).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.default_tick", strings.TrimSpace(newCfg.Scheduler.DefaultTick)),
			logx.String("scheduler.save_interval", strings.TrimSpace(newCfg.Scheduler.SaveInterval)),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	oC, nC := oldCfg.Capture, newCfg.Capture
	if !reflect.DeepEqual(oC.LightLevel, nC.LightLevel) || oC.BufferSize != nC.BufferSize ||
		oC.Attempts != nC.Attempts || strings.TrimSpace(oC.Backoff) != strings.TrimSpace(nC.Backoff) {
		changed = append(changed, "capture")
		level := -1.0
		if nC.LightLevel != nil {
			level = *nC.LightLevel
		}
		attrs = append(attrs,
			logx.Float64("capture.light_level", level),
			logx.Int("capture.buffer_size", nC.BufferSize),
			logx.Int("capture.attempts", nC.Attempts),
		)
	}
	if !reflect.DeepEqual(oC.Enabled, nC.Enabled) || strings.TrimSpace(oC.Interval) != strings.TrimSpace(nC.Interval) ||
		strings.TrimSpace(oC.Overlap) != strings.TrimSpace(nC.Overlap) || oC.FramesDir != nC.FramesDir ||
		oC.ReadyBackoff != nC.ReadyBackoff {
		changed = append(changed, "capture.timing")
		attrs = append(attrs, logx.String("capture.interval", strings.TrimSpace(nC.Interval)))
	}
	if !reflect.DeepEqual(oC.Source, nC.Source) {
		changed = append(changed, "capture.source")
		attrs = append(attrs, logx.String("capture.source.driver", nC.Source.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Consolidate, newCfg.Consolidate) {
		changed = append(changed, "consolidate")
		attrs = append(attrs,
			logx.Bool("consolidate.archive", BoolOr(newCfg.Consolidate.Archive.Enabled, true)),
			logx.Bool("consolidate.video", BoolOr(newCfg.Consolidate.Video.Enabled, true)),
			logx.Bool("consolidate.s3", newCfg.Consolidate.S3 != nil && newCfg.Consolidate.S3.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Status, newCfg.Status) {
		changed = append(changed, "status")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists the changed sections that are not applied live.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
