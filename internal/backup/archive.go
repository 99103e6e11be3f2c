package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveInfo describes a finished archive.
type ArchiveInfo struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	FileCount int       `json:"file_count"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchiveName builds the timestamped archive filename for a server.
func ArchiveName(server string, at time.Time) string {
	return fmt.Sprintf("%s_%s.tar.gz", server, at.Format("2006-01-02_15-04-05"))
}

// CreateArchive writes a tar.gz of srcDir into destPath. Paths inside the
// archive are relative to srcDir. exclude entries are matched with
// filepath.Match against the relative path; non-matching patterns are also
// tried against the base name so "*.log" skips logs anywhere in the tree.
// progress, if non-nil, is called with bytes archived so far and the total.
func CreateArchive(ctx context.Context, srcDir, destPath string, exclude []string, progress func(done, total int64)) (*ArchiveInfo, error) {
	total, err := measureTree(srcDir, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to measure %s: %w", srcDir, err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() { _ = out.Close() }()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	var done int64
	var count int
	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded(rel, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		n, err := io.Copy(tw, f)
		_ = f.Close()
		if err != nil {
			return err
		}
		count++
		done += n
		if progress != nil {
			progress(done, total)
		}
		return nil
	})
	if walkErr != nil {
		_ = tw.Close()
		_ = gz.Close()
		_ = out.Close()
		_ = os.Remove(destPath)
		return nil, fmt.Errorf("failed to archive %s: %w", srcDir, walkErr)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive file: %w", err)
	}

	fi, err := os.Stat(destPath)
	if err != nil {
		return nil, err
	}
	return &ArchiveInfo{
		Filename:  filepath.Base(destPath),
		Path:      destPath,
		SizeBytes: fi.Size(),
		FileCount: count,
		CreatedAt: time.Now(),
	}, nil
}

// ExtractArchive unpacks a tar.gz produced by CreateArchive into destDir,
// refusing entries that would escape it.
func ExtractArchive(ctx context.Context, archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode)&0o777); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			w, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(w, tr); err != nil {
				_ = w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and specials are not part of server data we back up.
		}
	}
}

// measureTree sums regular-file sizes under dir, honoring exclusions.
func measureTree(dir string, exclude []string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded(rel, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

func excluded(rel string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}
