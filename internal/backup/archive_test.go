package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestCreateAndExtractArchive(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"server.properties": "motd=hello\n",
		"world/level.dat":   "world-data",
		"world/region/r.0":  "region-data",
	})

	archive := filepath.Join(t.TempDir(), "out.tar.gz")
	var lastDone, total int64
	info, err := CreateArchive(context.Background(), src, archive, nil, func(d, tot int64) {
		lastDone, total = d, tot
	})
	if err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}
	if info.FileCount != 3 {
		t.Fatalf("file count=%d want 3", info.FileCount)
	}
	if info.SizeBytes <= 0 {
		t.Fatalf("size=%d want >0", info.SizeBytes)
	}
	if lastDone != total || total == 0 {
		t.Fatalf("progress ended at %d/%d", lastDone, total)
	}

	dest := t.TempDir()
	if err := ExtractArchive(context.Background(), archive, dest); err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "world", "level.dat"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(got) != "world-data" {
		t.Fatalf("extracted content=%q", got)
	}
}

func TestCreateArchiveExclusions(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"world/level.dat":   "data",
		"logs/latest.log":   "noise",
		"cache/chunk.bin":   "noise",
		"world/session.log": "noise",
	})

	archive := filepath.Join(t.TempDir(), "out.tar.gz")
	info, err := CreateArchive(context.Background(), src, archive, []string{"logs", "cache", "*.log"}, nil)
	if err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}
	if info.FileCount != 1 {
		t.Fatalf("file count=%d want 1 (exclusions not applied)", info.FileCount)
	}

	dest := t.TempDir()
	if err := ExtractArchive(context.Background(), archive, dest); err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "logs", "latest.log")); !os.IsNotExist(err) {
		t.Fatalf("excluded file was archived")
	}
	if _, err := os.Stat(filepath.Join(dest, "world", "level.dat")); err != nil {
		t.Fatalf("expected file missing: %v", err)
	}
}

func TestLocalDestinationRoundTrip(t *testing.T) {
	d := NewLocalDestination(filepath.Join(t.TempDir(), "backups"))
	ctx := context.Background()

	payload := []byte("archive-bytes")
	if err := d.Store(ctx, "alpha.tar.gz", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Store: %v", err)
	}

	files, err := d.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 || files[0].Name != "alpha.tar.gz" || files[0].SizeBytes != int64(len(payload)) {
		t.Fatalf("List=%+v", files)
	}

	var buf bytes.Buffer
	if err := d.Retrieve(ctx, "alpha.tar.gz", &buf); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("retrieved %q want %q", buf.Bytes(), payload)
	}

	if err := d.Delete(ctx, "alpha.tar.gz"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	files, _ = d.List(ctx)
	if len(files) != 0 {
		t.Fatalf("List after delete=%+v", files)
	}
}

func TestLocalDestinationSizeMismatch(t *testing.T) {
	d := NewLocalDestination(t.TempDir())
	err := d.Store(context.Background(), "x.tar.gz", bytes.NewReader([]byte("abc")), 99)
	if err == nil {
		t.Fatalf("expected size mismatch error")
	}
	files, _ := d.List(context.Background())
	if len(files) != 0 {
		t.Fatalf("partial file left behind: %+v", files)
	}
}
