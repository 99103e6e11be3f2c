package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalDestination keeps archives in a directory on the local filesystem.
type LocalDestination struct {
	base string
}

func NewLocalDestination(base string) *LocalDestination {
	if base == "" {
		base = "backups"
	}
	return &LocalDestination{base: base}
}

func (d *LocalDestination) Store(_ context.Context, name string, r io.Reader, size int64) error {
	if err := os.MkdirAll(d.base, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	dest := filepath.Join(d.base, name)
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	if written != size {
		_ = os.Remove(dest)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d", size, written)
	}
	slog.Debug("backup stored locally", "file", dest, "bytes", written)
	return nil
}

func (d *LocalDestination) Retrieve(_ context.Context, name string, w io.Writer) error {
	f, err := os.Open(filepath.Join(d.base, name))
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	return nil
}

func (d *LocalDestination) Delete(_ context.Context, name string) error {
	if err := os.Remove(filepath.Join(d.base, name)); err != nil {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

func (d *LocalDestination) List(_ context.Context) ([]StoredArchive, error) {
	entries, err := os.ReadDir(d.base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}
	var out []StoredArchive
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, StoredArchive{Name: e.Name(), SizeBytes: fi.Size(), ModUnix: fi.ModTime().Unix()})
	}
	return out, nil
}

func (d *LocalDestination) Type() string { return "local" }
func (d *LocalDestination) Close() error { return nil }
