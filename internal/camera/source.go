// Package camera provides frame sources and the light metric used by the
// capture pipeline.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"timelapse/internal/capture"
)

var ErrUnavailable = errors.New("camera unavailable")

// CommandSource runs a capture command that writes one encoded image to stdout,
// e.g. `fswebcam -q --no-banner -r 1280x720 -` or an ffmpeg single-frame grab.
type CommandSource struct {
	Argv    []string
	Timeout time.Duration
	Ext     string
}

func (s *CommandSource) Acquire(ctx context.Context) (capture.Frame, error) {
	if len(s.Argv) == 0 || strings.TrimSpace(s.Argv[0]) == "" {
		return capture.Frame{}, fmt.Errorf("%w: no capture command", ErrUnavailable)
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Argv[0], s.Argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg != "" {
			return capture.Frame{}, fmt.Errorf("%w: %s: %v: %s", ErrUnavailable, filepath.Base(s.Argv[0]), err, msg)
		}
		return capture.Frame{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, filepath.Base(s.Argv[0]), err)
	}
	if stdout.Len() == 0 {
		return capture.Frame{}, fmt.Errorf("%w: %s produced no image", ErrUnavailable, filepath.Base(s.Argv[0]))
	}
	return capture.Frame{Data: stdout.Bytes(), Ext: s.ext()}, nil
}

// ext is the normalized Ext; an unsupported value is passed through so the
// pipeline rejects the frame instead of storing it where nothing lists it.
func (s *CommandSource) ext() string {
	if e, err := capture.NormalizeExt(s.Ext); err == nil {
		return e
	}
	return s.Ext
}

// DirSource replays the images of a directory in name order, wrapping around.
// It stands in for a device on machines without one.
type DirSource struct {
	Dir string

	mu   sync.Mutex
	next int
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

func (s *DirSource) Acquire(ctx context.Context) (capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return capture.Frame{}, err
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return capture.Frame{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return capture.Frame{}, fmt.Errorf("%w: no images in %s", ErrUnavailable, s.Dir)
	}
	sort.Strings(names)

	s.mu.Lock()
	name := names[s.next%len(names)]
	s.next++
	s.mu.Unlock()

	b, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		return capture.Frame{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ext, err := capture.NormalizeExt(filepath.Ext(name))
	if err != nil {
		return capture.Frame{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return capture.Frame{Data: b, Ext: ext}, nil
}
