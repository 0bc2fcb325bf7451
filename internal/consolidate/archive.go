package consolidate

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ZipArchive rebuilds a flat zip of all frames. The previous archive is
// replaced only once the new one is complete.
type ZipArchive struct {
	Output string
}

func (z *ZipArchive) Name() string { return "archive" }

func (z *ZipArchive) Build(ctx context.Context, frames []string) (string, error) {
	if z.Output == "" {
		return "", errors.New("archive output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(z.Output), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(z.Output), ".archive-*.zip")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	zw := zip.NewWriter(tmp)
	for _, p := range frames {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return "", err
		}
		if err := addFile(zw, p); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return "", fmt.Errorf("archive %s: %w", filepath.Base(p), err)
		}
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, z.Output); err != nil {
		return "", err
	}
	return z.Output, nil
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	// JPEG and PNG are already compressed.
	hdr.Method = zip.Store
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
