package consolidate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// FFmpegVideo re-encodes all frames, piped in capture order, into one video.
type FFmpegVideo struct {
	Binary    string // "ffmpeg" when empty
	Output    string
	FrameRate int    // 25 when zero
	Codec     string // "libvpx-vp9" when empty
	PixFmt    string // "yuva420p" when empty
	ExtraArgs []string
}

func (v *FFmpegVideo) Name() string { return "video" }

func (v *FFmpegVideo) args(out string) []string {
	fps := v.FrameRate
	if fps <= 0 {
		fps = 25
	}
	codec := strings.TrimSpace(v.Codec)
	if codec == "" {
		codec = "libvpx-vp9"
	}
	pix := strings.TrimSpace(v.PixFmt)
	if pix == "" {
		pix = "yuva420p"
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-framerate", strconv.Itoa(fps),
		"-f", "image2pipe", "-i", "-",
		"-c:v", codec,
		"-pix_fmt", pix,
	}
	args = append(args, v.ExtraArgs...)
	return append(args, out)
}

func (v *FFmpegVideo) Build(ctx context.Context, frames []string) (string, error) {
	if v.Output == "" {
		return "", errors.New("video output path is required")
	}
	bin := strings.TrimSpace(v.Binary)
	if bin == "" {
		bin = "ffmpeg"
	}
	dir := filepath.Dir(v.Output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	// ffmpeg picks the container from the extension, so keep it on the temp file.
	base := filepath.Base(v.Output)
	ext := filepath.Ext(base)
	tmp := filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".part"+ext)
	defer func() { _ = os.Remove(tmp) }()

	cmd := exec.CommandContext(ctx, bin, v.args(tmp)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", bin, err)
	}

	feedErr := feed(stdin, frames)
	_ = stdin.Close()
	waitErr := cmd.Wait()
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 300 {
			msg = msg[len(msg)-300:]
		}
		return "", fmt.Errorf("%s: %w: %s", bin, waitErr, msg)
	}
	if feedErr != nil {
		return "", feedErr
	}
	if err := os.Rename(tmp, v.Output); err != nil {
		return "", err
	}
	return v.Output, nil
}

func feed(w io.Writer, frames []string) error {
	for _, p := range frames {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("pipe %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}
