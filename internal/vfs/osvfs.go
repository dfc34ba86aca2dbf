package vfs

import (
	"fmt"
	"os"
)

// OSVFS is the production VFS backed by the local filesystem. Opening any
// file (the main database file and its WAL alike) also takes an advisory
// exclusive lock (see lockfile_unix.go / lockfile_windows.go) so a second
// process cannot open the same file concurrently — the core serializes its single writer
// in-process, not across processes.
type OSVFS struct{}

// New returns the default OS-file VFS.
func New() *OSVFS { return &OSVFS{} }

func (OSVFS) Open(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("vfs: open %s: %w", path, err)
	}
	lock, err := lockFile(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &osFile{f: f, lock: lock}, nil
}

func (OSVFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSVFS) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

type osFile struct {
	f    *os.File
	lock *fileLock
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, off) }
func (o *osFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }
func (o *osFile) Sync() error                              { return o.f.Sync() }
func (o *osFile) Truncate(size int64) error                { return o.f.Truncate(size) }

func (o *osFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (o *osFile) Close() error {
	if o.lock != nil {
		_ = o.lock.unlock()
	}
	return o.f.Close()
}
