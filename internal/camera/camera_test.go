package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"timelapse/internal/capture"
	logx "timelapse/pkg/logx"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// halfLit is w x h with the left half white and the right half black.
func halfLit(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}

func TestGrayMetric(t *testing.T) {
	m := GrayMetric{Cutoff: DefaultCutoff}

	level, err := m.LightLevel(capture.Frame{Data: encodePNG(t, halfLit(8, 4))})
	require.NoError(t, err)
	require.InDelta(t, 0.5, level, 1e-9)

	// The cutoff is exclusive: a pixel exactly at 50 is dark.
	edge := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range edge.Pix {
		edge.Pix[i] = DefaultCutoff
	}
	edge.Pix[0] = DefaultCutoff + 1
	level, err = m.LightLevel(capture.Frame{Data: encodePNG(t, edge)})
	require.NoError(t, err)
	require.InDelta(t, 0.25, level, 1e-9)

	_, err = m.LightLevel(capture.Frame{Data: []byte("not an image")})
	require.Error(t, err)
}

func TestDirSourceCycles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	src := &DirSource{Dir: dir}
	ctx := context.Background()

	var got []string
	for i := 0; i < 3; i++ {
		f, err := src.Acquire(ctx)
		require.NoError(t, err)
		got = append(got, string(f.Data)+"/"+f.Ext)
	}
	require.Equal(t, []string{"a.jpg/jpg", "b.png/png", "a.jpg/jpg"}, got)

	_, err := (&DirSource{Dir: t.TempDir()}).Acquire(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCommandSource(t *testing.T) {
	ctx := context.Background()

	f, err := (&CommandSource{Argv: []string{"/bin/sh", "-c", "printf frame"}, Timeout: 5 * time.Second}).Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "frame", string(f.Data))
	require.Equal(t, "jpg", f.Ext)

	f, err = (&CommandSource{Argv: []string{"/bin/sh", "-c", "printf frame"}, Ext: ".JPEG"}).Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "jpg", f.Ext)

	_, err = (&CommandSource{Argv: []string{"/bin/sh", "-c", "true"}}).Acquire(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = (&CommandSource{Argv: []string{"/bin/sh", "-c", "echo no device >&2; exit 3"}}).Acquire(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorContains(t, err, "no device")

	_, err = (&CommandSource{}).Acquire(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
}

type flakySource struct {
	failures int32
	calls    atomic.Int32
}

func (s *flakySource) Acquire(context.Context) (capture.Frame, error) {
	if s.calls.Add(1) <= s.failures {
		return capture.Frame{}, errors.New("not yet")
	}
	return capture.Frame{Data: []byte{1}}, nil
}

func TestWaitReadyRetriesUntilAvailable(t *testing.T) {
	src := &flakySource{failures: 3}
	require.NoError(t, WaitReady(context.Background(), src, time.Millisecond, logx.Nop()))
	require.EqualValues(t, 4, src.calls.Load())
}

func TestWaitReadyStopsOnCancel(t *testing.T) {
	src := &flakySource{failures: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := WaitReady(ctx, src, 5*time.Millisecond, logx.Nop())
	require.Error(t, err)
	require.Greater(t, src.calls.Load(), int32(1))
}
