// Package vfs defines the byte-addressable file abstraction the pager and
// WAL are built on (§2.1), plus an OS-file implementation and an in-memory
// implementation for tests. This package has no fault-injecting wrapper;
// injected failures come from the WAL package's failpoints.
package vfs

import "io"

// File is a byte-addressable file: read/write at an offset, fsync, and
// truncate. Implementations must be safe for concurrent ReadAt calls; the
// pager and WAL serialize their own writers.
type File interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Sync() error
	Truncate(size int64) error
	Size() (int64, error)
	Close() error
}

// VFS opens and removes files by path. The main database file and its
// WAL (`<path>-wal`) are both opened through the same VFS so that tests
// can substitute an in-memory or fault-injecting implementation for both.
type VFS interface {
	// Open opens path, creating it if it does not already exist.
	Open(path string) (File, error)
	// Exists reports whether path names an existing file.
	Exists(path string) bool
	// Remove deletes path. Removing a non-existent path is not an error.
	Remove(path string) error
}

// ErrShortRead is returned by ReadAt implementations (or wrapped) when a
// read reaches the end of the file before filling its buffer, including a
// read at or beyond the end that returns no data.
var ErrShortRead = io.ErrUnexpectedEOF
