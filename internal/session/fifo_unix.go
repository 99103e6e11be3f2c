//go:build !windows

package session

import (
	"fmt"
	"os"
	"syscall"
)

// openConsoleFIFO ensures a named pipe exists at path and opens it
// read-write. The O_RDWR handle keeps the pipe from delivering EOF to the
// server's stdin while no external writer is attached, and it survives as
// the stdin of the detached child.
func openConsoleFIFO(path string) (*os.File, error) {
	fi, err := os.Lstat(path)
	switch {
	case err == nil:
		if fi.Mode()&os.ModeNamedPipe == 0 {
			// Stale regular file from an earlier run; replace it.
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("replace stale console pipe %s: %w", path, err)
			}
			if err := syscall.Mkfifo(path, 0o600); err != nil {
				return nil, fmt.Errorf("mkfifo %s: %w", path, err)
			}
		}
	case os.IsNotExist(err):
		if err := syscall.Mkfifo(path, 0o600); err != nil {
			return nil, fmt.Errorf("mkfifo %s: %w", path, err)
		}
	default:
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open console pipe %s: %w", path, err)
	}
	return f, nil
}
