package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "timelapse/pkg/logx"
)

// fileStore keeps the schedule as a single JSON document:
//
//	[["capture", 1718000000.123], ["schedule.save", 1718000100.5]]
//
// Timestamps are unix seconds with millisecond precision; 0 means never run.
// Writes go to a temp file first and are renamed into place.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadSchedule(ctx context.Context) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSchedule(b, s.log)
}

func (s *fileStore) SaveSchedule(ctx context.Context, recs []Record) error {
	_ = ctx
	b, err := encodeSchedule(recs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func encodeSchedule(recs []Record) ([]byte, error) {
	rows := make([][2]any, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, [2]any{r.Identity, toSeconds(r.LastRun)})
	}
	return json.Marshal(rows)
}

func decodeSchedule(b []byte, log logx.Logger) ([]Record, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for i, raw := range rows {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			log.Debug("schedule row skipped", logx.Int("row", i))
			continue
		}
		var id string
		var secs float64
		if err := json.Unmarshal(pair[0], &id); err != nil || strings.TrimSpace(id) == "" {
			log.Debug("schedule row skipped", logx.Int("row", i))
			continue
		}
		if err := json.Unmarshal(pair[1], &secs); err != nil {
			log.Debug("schedule row skipped", logx.Int("row", i), logx.String("identity", id))
			continue
		}
		out = append(out, Record{Identity: id, LastRun: fromSeconds(secs)})
	}
	return out, nil
}

func toSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}

func fromSeconds(secs float64) time.Time {
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}
	}
	return time.UnixMilli(int64(math.Round(secs * 1000)))
}
