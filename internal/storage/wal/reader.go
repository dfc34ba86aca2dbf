package wal

import (
	"sync"
	"time"

	"github.com/sphildreth/decentdb/internal/storage"
)

// ReadTxn is a live snapshot read transaction (§3, §5). Readers are
// numbered monotonically with a plain counter — not a UUID — per the
// spec's reader-registry wording.
type ReadTxn struct {
	ReaderID       uint64
	SnapshotLSN    storage.LSN
	StartedAt      time.Time
	WalSizeAtStart int64
	aborted        bool
}

// readerRegistry tracks every live ReadTxn so checkpoint can compute the
// oldest pinned snapshot (§4.3.1 step 2) and warn/timeout slow readers.
type readerRegistry struct {
	mu      sync.Mutex
	nextID  uint64
	active  map[uint64]*ReadTxn
	nowFunc func() time.Time
}

func newReaderRegistry() *readerRegistry {
	return &readerRegistry{active: make(map[uint64]*ReadTxn), nowFunc: time.Now}
}

// begin registers a new reader at the given snapshot LSN and WAL size.
func (r *readerRegistry) begin(snapshotLSN storage.LSN, walSize int64) *ReadTxn {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	txn := &ReadTxn{
		ReaderID:       r.nextID,
		SnapshotLSN:    snapshotLSN,
		StartedAt:      r.nowFunc(),
		WalSizeAtStart: walSize,
	}
	r.active[txn.ReaderID] = txn
	return txn
}

// end unregisters a reader. Idempotent: ending an already-ended or unknown
// reader is a no-op, matching §5's "EndRead is idempotent" requirement.
func (r *readerRegistry) end(txn *ReadTxn) {
	if txn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, txn.ReaderID)
}

// oldestSnapshot returns the smallest SnapshotLSN among active readers and
// whether any reader is active at all.
func (r *readerRegistry) oldestSnapshot() (storage.LSN, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var min storage.LSN
	found := false
	for _, txn := range r.active {
		if !found || txn.SnapshotLSN < min {
			min = txn.SnapshotLSN
			found = true
		}
	}
	return min, found
}

// overdue returns readers that have been open longer than warnAfter,
// in no particular order, for checkpoint's reader-stall warning/timeout logic.
func (r *readerRegistry) overdue(warnAfter time.Duration) []*ReadTxn {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFunc()
	out := make([]*ReadTxn, 0)
	for _, txn := range r.active {
		if now.Sub(txn.StartedAt) >= warnAfter {
			out = append(out, txn)
		}
	}
	return out
}

// count reports the number of currently active readers.
func (r *readerRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// oldestWalSize returns the smallest WalSizeAtStart among active readers
// and whether any reader is active at all.
func (r *readerRegistry) oldestWalSize() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var min int64
	found := false
	for _, txn := range r.active {
		if !found || txn.WalSizeAtStart < min {
			min = txn.WalSizeAtStart
			found = true
		}
	}
	return min, found
}
