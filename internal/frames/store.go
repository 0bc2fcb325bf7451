// Package frames stores accepted frames as files in one directory.
package frames

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"timelapse/internal/capture"
)

// DirStore keeps frames flat in Dir. Names are timestamp based, so name
// order is capture order.
type DirStore struct {
	dir  string
	exts map[string]bool
}

func NewDirStore(dir string) (*DirStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("frames dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{dir: dir, exts: map[string]bool{".jpg": true, ".png": true}}, nil
}

func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) Path(name string) string { return filepath.Join(s.dir, name) }

// Persist writes the frame under name. The file appears atomically.
func (s *DirStore) Persist(ctx context.Context, name string, f capture.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid frame name %q", name)
	}
	if !s.exts[strings.ToLower(filepath.Ext(name))] {
		return fmt.Errorf("%w: %s", capture.ErrUnsupportedExt, name)
	}
	tmp, err := os.CreateTemp(s.dir, ".frame-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(f.Data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path(name))
}

// List returns stored frame names in ascending order.
func (s *DirStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if s.exts[strings.ToLower(filepath.Ext(e.Name()))] {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Paths returns the full paths of List.
func (s *DirStore) Paths() ([]string, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}
	for i, n := range names {
		names[i] = s.Path(n)
	}
	return names, nil
}

// Usage describes the filesystem holding the frames.
type Usage struct {
	Total uint64
	Free  uint64
	Avail uint64
	Used  uint64
}

// Percent is the used share of the filesystem, 0..100.
func (u Usage) Percent() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Total) * 100
}

// DiskUsage reports the filesystem usage for path.
func DiskUsage(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	u := Usage{
		Total: st.Blocks * bsize,
		Free:  st.Bfree * bsize,
		Avail: st.Bavail * bsize,
	}
	u.Used = u.Total - u.Free
	return u, nil
}

func (s *DirStore) DiskUsage() (Usage, error) { return DiskUsage(s.dir) }

var _ capture.FrameStore = (*DirStore)(nil)
