//go:build windows

package vfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// fileLock is an advisory, process-exclusive lock on a sidecar "<path>.lock"
// file, taken with LockFileEx.
type fileLock struct {
	f *os.File
}

func lockFile(path string) (*fileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("vfs: open lock file: %w", err)
	}
	ol := new(windows.Overlapped)
	const lockfileExclusiveLock = 0x2
	const lockfileFailImmediately = 0x1
	h := windows.Handle(f.Fd())
	if err := windows.LockFileEx(h, lockfileExclusiveLock|lockfileFailImmediately, 0, 1, 0, ol); err != nil {
		f.Close()
		return nil, fmt.Errorf("vfs: database %q is locked by another process: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	ol := new(windows.Overlapped)
	h := windows.Handle(l.f.Fd())
	_ = windows.UnlockFileEx(h, 0, 1, 0, ol)
	return l.f.Close()
}
