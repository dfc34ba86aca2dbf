package vfs

import (
	"sync"
)

// MemVFS is an in-memory VFS for deterministic tests — no real filesystem,
// no OS-level locking, grounded on the teacher corpus's in-memory storage
// backend pattern (an in-process byte-slice file standing in for disk).
type MemVFS struct {
	mu    sync.Mutex
	files map[string]*memFile
}

// NewMem returns an empty in-memory VFS.
func NewMem() *MemVFS {
	return &MemVFS{files: make(map[string]*memFile)}
}

func (m *MemVFS) Open(path string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		f = &memFile{}
		m.files[path] = f
	}
	return &memHandle{f: f}, nil
}

func (m *MemVFS) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *MemVFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

// memFile is the shared backing store for a path; multiple memHandle
// opens of the same path see the same bytes, as real file opens would.
type memFile struct {
	mu   sync.Mutex
	data []byte
}

type memHandle struct {
	f      *memFile
	closed bool
}

func (h *memHandle) ReadAt(p []byte, off int64) (int, error) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if off >= int64(len(h.f.data)) {
		return 0, ErrShortRead
	}
	n := copy(p, h.f.data[off:])
	if n < len(p) {
		return n, ErrShortRead
	}
	return n, nil
}

func (h *memHandle) WriteAt(p []byte, off int64) (int, error) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(h.f.data)) {
		grown := make([]byte, end)
		copy(grown, h.f.data)
		h.f.data = grown
	}
	copy(h.f.data[off:end], p)
	return len(p), nil
}

func (h *memHandle) Sync() error { return nil }

func (h *memHandle) Truncate(size int64) error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if size <= int64(len(h.f.data)) {
		h.f.data = h.f.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, h.f.data)
	h.f.data = grown
	return nil
}

func (h *memHandle) Size() (int64, error) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	return int64(len(h.f.data)), nil
}

func (h *memHandle) Close() error {
	h.closed = true
	return nil
}
