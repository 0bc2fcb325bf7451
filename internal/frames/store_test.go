package frames

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"timelapse/internal/capture"
	logx "timelapse/pkg/logx"
)

func TestDirStorePersistAndList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "imgs")
	s, err := NewDirStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"img_2024-06-02_08:00:00.jpg", "img_2024-06-01_12:15:00.jpg", "img_2024-06-01_12:00:00.jpg"} {
		require.NoError(t, s.Persist(ctx, name, capture.Frame{Data: []byte(name)}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755))

	names, err := s.List()
	require.NoError(t, err)
	require.Equal(t, []string{
		"img_2024-06-01_12:00:00.jpg",
		"img_2024-06-01_12:15:00.jpg",
		"img_2024-06-02_08:00:00.jpg",
	}, names)

	b, err := os.ReadFile(s.Path(names[0]))
	require.NoError(t, err)
	require.Equal(t, names[0], string(b))

	paths, err := s.Paths()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, names[2]), paths[2])
}

func TestDirStoreRejectsPaths(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, s.Persist(context.Background(), "../escape.jpg", capture.Frame{}))
	require.Error(t, s.Persist(context.Background(), "", capture.Frame{}))
	require.ErrorIs(t, s.Persist(context.Background(), "img.jpeg", capture.Frame{}), capture.ErrUnsupportedExt)

	_, err = NewDirStore("  ")
	require.Error(t, err)
}

func TestDiskUsage(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	u, err := s.DiskUsage()
	require.NoError(t, err)
	require.NotZero(t, u.Total)
	require.LessOrEqual(t, u.Used, u.Total)
	require.GreaterOrEqual(t, u.Percent(), 0.0)
	require.LessOrEqual(t, u.Percent(), 100.0)

	_, err = DiskUsage(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

type encodedSource struct{ ext string }

func (s encodedSource) Acquire(context.Context) (capture.Frame, error) {
	return capture.Frame{Data: []byte{0xff, 0xd8}, Ext: s.ext}, nil
}

func TestEveryAcceptedFrameIsListed(t *testing.T) {
	day := capture.MetricFunc(func(capture.Frame) (float64, error) { return 1, nil })

	for _, ext := range []string{"jpeg", "JPG", ".png", ""} {
		store, err := NewDirStore(t.TempDir())
		require.NoError(t, err)
		p := capture.New(capture.Config{Threshold: 0.5, Buffer: 100}, encodedSource{ext: ext}, day, store, nil, logx.Nop(), nil)
		require.NoError(t, p.Run(context.Background()), ext)
		require.Equal(t, 1, p.FrameCount(), ext)

		names, err := p.Filenames()
		require.NoError(t, err)
		require.Equal(t, []string{p.Stats().LastFile}, names, ext)
	}

	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	p := capture.New(capture.Config{Threshold: 0.5}, encodedSource{ext: "tiff"}, day, store, nil, logx.Nop(), nil)
	require.ErrorIs(t, p.Run(context.Background()), capture.ErrPersist)
	require.Equal(t, 0, p.FrameCount())
	names, err := store.List()
	require.NoError(t, err)
	require.Empty(t, names)
}
