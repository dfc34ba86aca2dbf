package wal

import (
	"sync"
	"time"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
)

// CheckpointTarget is the pager surface checkpoint needs: applying WAL
// page images to the main file and persisting the advanced checkpoint
// LSN in the DB header. *pager.Pager satisfies this structurally, with no
// import from this package to pager (§4.3.1, Design Notes).
type CheckpointTarget interface {
	WritePageDirect(id storage.PageID, buf []byte) error
	Sync() error
	Header() storage.Header
	UpdateHeader(fn func(h *storage.Header))
	WriteHeaderToDisk() error
	FlushFreelist() error
}

// CheckpointConfig holds the tuning knobs from §4.3 setCheckpointConfig.
// Only ReaderWarnMs, ReaderTimeoutMs, ForceTruncateOnTimeout and
// ReaderCheckIntervalMs are acted on, by the reader-stall check at the end
// of Checkpoint; EveryBytes, EveryMs and MaxWalBytesPerReader are stored
// but nothing reads them, and no checkpoint runs automatically.
type CheckpointConfig struct {
	EveryBytes             int64
	EveryMs                int64
	ReaderWarnMs           int64
	ReaderTimeoutMs        int64
	ForceTruncateOnTimeout bool
	MaxWalBytesPerReader   int64
	ReaderCheckIntervalMs  int64
}

// DefaultCheckpointConfig mirrors reasonable defaults for an embedded,
// mostly-idle database.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		EveryBytes:             4 << 20,
		EveryMs:                5000,
		ReaderWarnMs:           2000,
		ReaderTimeoutMs:        30000,
		ForceTruncateOnTimeout: false,
		MaxWalBytesPerReader:   64 << 20,
		ReaderCheckIntervalMs:  1000,
	}
}

type checkpointState struct {
	mu          sync.Mutex
	cfg         CheckpointConfig
	lastWarnAt  map[uint64]time.Time
	lastRunAt   time.Time
	bytesAtLast int64
}

// SetCheckpointConfig installs the checkpoint tuning knobs; of these, only
// the reader warn/timeout settings take effect (see CheckpointConfig).
func (w *Wal) SetCheckpointConfig(cfg CheckpointConfig) {
	w.ckpt.mu.Lock()
	defer w.ckpt.mu.Unlock()
	w.ckpt.cfg = cfg
	if w.ckpt.lastWarnAt == nil {
		w.ckpt.lastWarnAt = make(map[uint64]time.Time)
	}
}

// Checkpoint runs the §4.3.1 protocol against target: applies WAL page
// images up to the safe horizon, fsyncs, advances the header's
// checkpoint LSN, and truncates the WAL file back to its header when the
// horizon fully caught up to the tip with no reader or writer in the way.
// Returns the LSN checkpointed up to.
func (w *Wal) Checkpoint(target CheckpointTarget) (storage.LSN, error) {
	hdr := target.Header()
	lastCheckpoint := hdr.LastCheckpointLSN

	w.mu.Lock()
	tip := w.tipLSN
	w.mu.Unlock()

	horizon := tip
	oldest, hasReaders := w.readers.oldestSnapshot()
	if hasReaders && oldest < horizon {
		horizon = oldest
	}

	if horizon > lastCheckpoint {
		pages := w.index.pageIDsInRange(lastCheckpoint, horizon)
		for pageID, offset := range pages {
			buf, err := w.readPageImageAt(offset)
			if err != nil {
				return 0, err
			}
			if action, ok := failpointAt(SiteCheckpointPage); ok && action == failError {
				return 0, dberrors.New(dberrors.IO, "injected failure at "+SiteCheckpointPage, "")
			}
			if err := target.WritePageDirect(pageID, buf); err != nil {
				return 0, err
			}
		}

		if action, ok := failpointAt(SiteCheckpointSync); ok && action == failError {
			return 0, dberrors.New(dberrors.IO, "injected failure at "+SiteCheckpointSync, "")
		}
		if err := target.Sync(); err != nil {
			return 0, err
		}

		target.UpdateHeader(func(h *storage.Header) { h.LastCheckpointLSN = horizon })
	}

	// Pages freed since the last checkpoint only live in the pager's
	// in-memory freeSet until their chain is written out here; without this
	// they never survive a Close+reopen unless a caller ran GC by hand.
	if err := target.FlushFreelist(); err != nil {
		return 0, err
	}
	if err := target.WriteHeaderToDisk(); err != nil {
		return 0, err
	}

	writerIdle := w.writerSlot.TryLock()
	if writerIdle {
		defer w.writerSlot.Unlock()
	}
	noBlockingReader := !hasReaders || oldest >= horizon

	if horizon == tip && noBlockingReader && writerIdle {
		if err := w.file.Truncate(HeaderSize); err != nil {
			return 0, dberrors.Wrap(dberrors.IO, "truncate WAL after checkpoint", err)
		}
		w.mu.Lock()
		w.tipOffset = HeaderSize
		w.chainCRC = 0
		w.mu.Unlock()
		w.index.reset()
	} else {
		w.index.compact(horizon, minOrHorizon(oldest, hasReaders, horizon))
	}

	w.checkReaderStalls()
	return horizon, nil
}

func minOrHorizon(oldest storage.LSN, hasReaders bool, horizon storage.LSN) storage.LSN {
	if hasReaders {
		return oldest
	}
	return horizon
}

// checkReaderStalls warns on readers past ReaderWarnMs and, if configured,
// aborts readers past ReaderTimeoutMs so subsequent reads through them fail.
// A zero ReaderWarnMs turns off only the warnings, a zero ReaderTimeoutMs
// only the aborts.
func (w *Wal) checkReaderStalls() {
	w.ckpt.mu.Lock()
	cfg := w.ckpt.cfg
	if w.ckpt.lastWarnAt == nil {
		w.ckpt.lastWarnAt = make(map[uint64]time.Time)
	}
	w.ckpt.mu.Unlock()
	warnOn := cfg.ReaderWarnMs > 0
	timeoutOn := cfg.ReaderTimeoutMs > 0 && cfg.ForceTruncateOnTimeout
	if !warnOn && !timeoutOn {
		return
	}
	warnAfter := time.Duration(cfg.ReaderWarnMs) * time.Millisecond
	timeoutAfter := time.Duration(cfg.ReaderTimeoutMs) * time.Millisecond
	scanAfter := warnAfter
	if !warnOn || (timeoutOn && timeoutAfter < warnAfter) {
		scanAfter = timeoutAfter
	}
	for _, txn := range w.readers.overdue(scanAfter) {
		if warnOn && (scanAfter == warnAfter || time.Since(txn.StartedAt) >= warnAfter) {
			w.ckpt.mu.Lock()
			last, seen := w.ckpt.lastWarnAt[txn.ReaderID]
			shouldWarn := !seen || time.Since(last) >= time.Duration(cfg.ReaderCheckIntervalMs)*time.Millisecond
			if shouldWarn {
				w.ckpt.lastWarnAt[txn.ReaderID] = time.Now()
			}
			w.ckpt.mu.Unlock()
			if shouldWarn {
				w.log.WithField("reader_id", txn.ReaderID).Warn("reader exceeded checkpoint warn threshold")
			}
		}
		if timeoutOn {
			if time.Since(txn.StartedAt) >= timeoutAfter {
				txn.aborted = true
				w.log.WithField("reader_id", txn.ReaderID).Warn("reader aborted after exceeding timeout")
			}
		}
	}
}

// ReaderAborted reports whether a reader was force-aborted by checkpoint.
func (txn *ReadTxn) ReaderAborted() bool { return txn.aborted }
