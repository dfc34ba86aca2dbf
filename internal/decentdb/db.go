// Package decentdb composes the pager, WAL, and B+Tree into the external
// contract of §6: open/close a database file, run single-writer
// transactions with snapshot-isolated readers, and checkpoint the WAL back
// into the main file. It owns the pager↔WAL relationship as a pair of
// sibling handles rather than a direct import cycle: the pager never
// imports the WAL package, and the WAL only sees the pager through the
// small CheckpointTarget/PagerDirectReader interfaces it already declares.
package decentdb

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/metrics"
	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/storage/btree"
	"github.com/sphildreth/decentdb/internal/storage/pager"
	"github.com/sphildreth/decentdb/internal/storage/wal"
	"github.com/sphildreth/decentdb/internal/vfs"
)

// Config bundles every operational knob named in §6: cache sizing plus the
// checkpoint policy. A zero CachePages selects the pager's default cache
// size; Checkpoint is installed as given (not merged with
// DefaultCheckpointConfig), so a zero reader warn or timeout field turns
// that feature off. Metrics is optional; a nil Registry means no instrumentation is recorded.
type Config struct {
	CachePages int
	Checkpoint wal.CheckpointConfig
	Metrics    *metrics.Registry
}

// DB is the open handle external collaborators (the would-be
// executor/catalog layer) compose SQL semantics on top of. It is not
// itself safe for concurrent writers — the WAL enforces that a single
// writer is active at a time; DB just forwards the call.
type DB struct {
	v   vfs.VFS
	p   *pager.Pager
	w   *wal.Wal
	log *logrus.Entry
	m   *metrics.Registry
}

// OpenDB opens or creates the main file at path and its WAL sibling at
// path+"-wal" (§6), recovering the WAL if one already exists.
func OpenDB(v vfs.VFS, path string, cfg Config) (*DB, error) {
	p, err := pager.Open(v, path, pager.Config{CachePages: cfg.CachePages})
	if err != nil {
		return nil, err
	}
	w, err := wal.New(v, path+"-wal", uint32(p.PageSize()))
	if err != nil {
		p.ClosePager()
		return nil, err
	}
	w.SetCheckpointConfig(cfg.Checkpoint)
	return &DB{v: v, p: p, w: w, log: logrus.WithField("component", "decentdb"), m: cfg.Metrics}, nil
}

// Pager exposes the underlying pager for callers (catalog, btree-backed
// tables) that need raw page access beyond this handle's transaction
// surface.
func (db *DB) Pager() *pager.Pager { return db.p }

// Close releases the pager and WAL file handles. The pager writes out its
// freelist chain and header on close, but dirty cached pages are not
// flushed and the WAL is not checkpointed; callers should CheckpointDB
// first if they want a clean, WAL-free file.
func (db *DB) Close() error {
	if err := db.w.Close(); err != nil {
		return err
	}
	return db.p.ClosePager()
}

// Txn is the single active write transaction handle returned by
// BeginTransaction. Every page mutated through Pager() while a Txn is open
// must be staged via StagePage (so the WAL writer can append its frame
// before Commit publishes it).
type Txn struct {
	db     *DB
	writer *wal.Writer
	staged map[storage.PageID]struct{}
	done   bool
}

// BeginTransaction acquires the single cooperative writer slot and starts
// dirty-page tracking so a rollback can discard everything this
// transaction touched (§4.2, §5).
func (db *DB) BeginTransaction() (*Txn, error) {
	wr, err := db.w.BeginWrite()
	if err != nil {
		return nil, err
	}
	db.p.BeginTxnPageTracking()
	return &Txn{db: db, writer: wr, staged: make(map[storage.PageID]struct{})}, nil
}

// StagePage marks id as touched by this transaction and appends the page's
// current bytes, as read through the pager cache, as a WAL page-image frame. Callers mutate the
// page in the pager (via Pager().WritePage) either before or after calling
// StagePage; what matters is that StagePage is called once per page per
// transaction, after the page holds the bytes that should become durable.
func (t *Txn) StagePage(id storage.PageID) error {
	if t.done {
		return dberrors.New(dberrors.Transaction, "transaction already finished", "")
	}
	buf, err := t.db.p.ReadPage(id)
	if err != nil {
		return err
	}
	if err := t.writer.WritePage(id, buf); err != nil {
		return err
	}
	t.staged[id] = struct{}{}
	return nil
}

// CommitTransaction appends the commit frame, fsyncs, publishes every
// staged page atomically into the WAL's reader-visible index, and ends
// dirty tracking (§4.3, §5). The pager's own resident cache already holds
// the new bytes; only the WAL decides when readers see them.
func (db *DB) CommitTransaction(t *Txn) (storage.LSN, error) {
	if t.done {
		return 0, dberrors.New(dberrors.Transaction, "transaction already finished", "")
	}
	t.done = true
	lsn, err := db.w.Commit(t.writer)
	if err != nil {
		return 0, err
	}
	db.p.EndTxnPageTracking()
	return lsn, nil
}

// RollbackTransaction releases the writer slot and discards every page
// this transaction dirtied from the pager cache (§4.2, §5). Frames already
// appended to the WAL file remain but are never published, so recovery and
// readers never observe them.
func (db *DB) RollbackTransaction(t *Txn) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := db.w.Rollback(t.writer); err != nil {
		return err
	}
	db.p.RollbackTxnPages()
	return nil
}

// BeginRead registers a reader at the WAL's current tip LSN (§4.3, §5).
func (db *DB) BeginRead() *wal.ReadTxn { return db.w.BeginRead() }

// EndRead releases a reader registered by BeginRead.
func (db *DB) EndRead(r *wal.ReadTxn) { db.w.EndRead(r) }

// ReadPage returns the bytes visible to r for id: the WAL overlay at or
// before r's snapshot if one exists, else the pager's on-disk image. Fails
// if r was force-aborted by a checkpoint's reader-timeout handling.
func (db *DB) ReadPage(r *wal.ReadTxn, id storage.PageID) ([]byte, error) {
	return db.w.ReadPageWithSnapshot(r, id, db.p)
}

// CheckpointDB drains committed WAL frames into the main file up to the
// oldest pinned snapshot, truncating the WAL when nothing still needs it
// (§4.3.1).
func (db *DB) CheckpointDB() (storage.LSN, error) {
	start := time.Now()
	horizon, err := db.w.Checkpoint(db.p)
	if db.m != nil {
		db.m.ObserveCheckpoint(time.Since(start), err)
	}
	if err != nil {
		return 0, err
	}
	db.log.WithField("horizon", horizon).Debug("checkpoint complete")
	db.SyncMetrics()
	return horizon, nil
}

// SyncMetrics pushes the current cache and WAL gauges into the configured
// metrics.Registry. It is a no-op if Config.Metrics was nil. Callers with a
// long-lived DB typically call this after each checkpoint or on their own
// scrape-adjacent cadence; it is otherwise never on the data path (§10).
func (db *DB) SyncMetrics() {
	if db.m == nil {
		return
	}
	stats := db.p.CacheStats()
	db.m.SyncCacheStats(stats.Hits, stats.Misses, stats.Evictions)
	size, err := db.w.Size()
	if err != nil {
		size = 0
	}
	db.m.SyncWalStats(size, db.w.ActiveReaderCount(), db.w.ReaderLagBytes()/int64(db.p.PageSize()))
}

// OpenTree wraps an existing B+Tree root for use on this database's
// pager. The root PageId itself is the catalog's responsibility to
// persist; decentdb only hands back the handle.
func (db *DB) OpenTree(root storage.PageID) *btree.BTree {
	return btree.New(db.p, root)
}

// NewTree allocates a fresh, empty B+Tree and returns a handle over it.
func (db *DB) NewTree() (*btree.BTree, error) {
	root, err := btree.InitRoot(db.p)
	if err != nil {
		return nil, err
	}
	return btree.New(db.p, root), nil
}

func (db *DB) String() string {
	return fmt.Sprintf("decentdb(pageSize=%d, tipLSN=%d)", db.p.PageSize(), db.w.TipLSN())
}
