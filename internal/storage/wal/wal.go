package wal

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/vfs"
)

// Wal is the append-only write-ahead log: frame storage, the in-memory
// page index, the reader registry and the single cooperative writer slot
// (§4.3).
type Wal struct {
	v    vfs.VFS
	file vfs.File
	path string

	header   Header
	pageSize int

	mu        sync.Mutex // guards tipOffset/tipLSN/chainCRC below
	tipOffset int64
	tipLSN    storage.LSN
	chainCRC  uint32

	index   *pageIndex
	readers *readerRegistry

	writerSlot sync.Mutex // TryLock-style cooperative single writer (§4.3, §5)

	ckpt checkpointState

	log *logrus.Entry
}

// New opens or creates the WAL file at path. A fresh file gets a new
// header with a random salt, written and fsynced immediately.
func New(v vfs.VFS, path string, pageSize uint32) (*Wal, error) {
	isNew := !v.Exists(path)
	f, err := v.Open(path)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "open WAL file", err)
	}

	w := &Wal{
		v:        v,
		file:     f,
		path:     path,
		index:    newPageIndex(),
		readers:  newReaderRegistry(),
		pageSize: int(pageSize),
		log:      logrus.WithField("component", "wal"),
	}
	w.ckpt.cfg = DefaultCheckpointConfig()
	w.ckpt.lastWarnAt = make(map[uint64]time.Time)

	if isNew {
		w.header = *NewHeader(pageSize)
		if _, err := f.WriteAt(EncodeHeader(&w.header), 0); err != nil {
			f.Close()
			return nil, dberrors.Wrap(dberrors.IO, "write WAL header", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, dberrors.Wrap(dberrors.IO, "fsync new WAL file", err)
		}
		w.tipOffset = HeaderSize
		return w, nil
	}

	hdrBuf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, dberrors.Wrap(dberrors.IO, "read WAL header", err)
	}
	hdr, err := DecodeHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.header = *hdr
	if err := w.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// recover scans frames sequentially from the header onward, verifying the
// CRC/chain on each, and stops at the first invalid or unknown frame,
// treating everything from there on as a torn tail (§4.3.2). The file is
// truncated to the last known-good offset so future appends overwrite it.
func (w *Wal) recover() error {
	size, err := w.file.Size()
	if err != nil {
		return dberrors.Wrap(dberrors.IO, "stat WAL file", err)
	}
	if size <= HeaderSize {
		w.tipOffset = HeaderSize
		return nil
	}
	body := make([]byte, size-HeaderSize)
	if _, err := w.file.ReadAt(body, HeaderSize); err != nil {
		return dberrors.Wrap(dberrors.IO, "read WAL body", err)
	}

	offset := int64(0)
	chain := uint32(0)
	goodOffset := int64(HeaderSize)
	pending := make(map[storage.PageID]int64)
	var tipLSN storage.LSN

scan:
	for offset < int64(len(body)) {
		df, err := decodeFrameAt(body[offset:], w.header.Salt, chain)
		if err != nil {
			break scan
		}
		switch df.typ {
		case FrameTypePageImage:
			pageID, _, perr := decodePageImagePayload(df.payload)
			if perr != nil {
				break scan
			}
			pending[pageID] = HeaderSize + offset
		case FrameTypeCommit:
			lsn, cerr := decodeCommitPayload(df.payload)
			if cerr != nil {
				break scan
			}
			w.index.publish(pending, lsn)
			pending = make(map[storage.PageID]int64)
			tipLSN = lsn
			goodOffset = HeaderSize + offset + df.frameLen
		}
		chain = df.nextChain
		offset += df.frameLen
	}

	w.tipOffset = goodOffset
	w.tipLSN = tipLSN
	if goodOffset < size {
		if err := w.file.Truncate(goodOffset); err != nil {
			return dberrors.Wrap(dberrors.IO, "truncate torn WAL tail", err)
		}
	}
	// Recompute the chain checksum as of goodOffset by replaying up to it;
	// cheap re-scan since WALs between checkpoints are bounded in size.
	w.chainCRC = 0
	if goodOffset > HeaderSize {
		replay := body[:goodOffset-HeaderSize]
		o := int64(0)
		c := uint32(0)
		for o < int64(len(replay)) {
			df, err := decodeFrameAt(replay[o:], w.header.Salt, c)
			if err != nil {
				break
			}
			c = df.nextChain
			o += df.frameLen
		}
		w.chainCRC = c
	}
	return nil
}

// PageSize returns the page size this Wal was opened with.
func (w *Wal) PageSize() int { return w.pageSize }

// TipLSN returns the highest durable commit LSN.
func (w *Wal) TipLSN() storage.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tipLSN
}

// BeginRead registers a reader at the current tip LSN (§4.3, §5).
func (w *Wal) BeginRead() *ReadTxn {
	w.mu.Lock()
	snapshot := w.tipLSN
	size := w.tipOffset
	w.mu.Unlock()
	return w.readers.begin(snapshot, size)
}

// EndRead removes a reader; idempotent.
func (w *Wal) EndRead(txn *ReadTxn) {
	w.readers.end(txn)
}

// ActiveReaderCount reports how many read snapshots are currently open.
func (w *Wal) ActiveReaderCount() int {
	return w.readers.count()
}

// ReaderLagBytes reports how many bytes have been appended to the WAL
// since the oldest active reader's snapshot, or 0 if no reader is active.
func (w *Wal) ReaderLagBytes() int64 {
	w.mu.Lock()
	tip := w.tipOffset
	w.mu.Unlock()
	oldest, ok := w.readers.oldestWalSize()
	if !ok || tip < oldest {
		return 0
	}
	return tip - oldest
}

// Size returns the current on-disk size of the WAL file.
func (w *Wal) Size() (int64, error) {
	return w.file.Size()
}

// Writer is the single active write-transaction handle returned by
// BeginWrite. Pages are buffered as frames appended to the WAL file as
// WritePage is called; nothing is visible to readers until Commit.
type Writer struct {
	wal     *Wal
	images  map[storage.PageID]int64
	aborted bool
}

// BeginWrite acquires the single cooperative writer slot. A second
// concurrent call fails with dberrors.Transaction.
func (w *Wal) BeginWrite() (*Writer, error) {
	if !w.writerSlot.TryLock() {
		return nil, dberrors.New(dberrors.Transaction, "a write transaction is already active", "")
	}
	return &Writer{wal: w, images: make(map[storage.PageID]int64)}, nil
}

// WritePage appends a PageImage frame for id carrying page's current
// bytes. The writer may call this many times before Commit.
func (wr *Writer) WritePage(id storage.PageID, page []byte) error {
	w := wr.wal
	payload := pageImagePayload(id, page)

	w.mu.Lock()
	offset := w.tipOffset
	prevChain := w.chainCRC
	w.mu.Unlock()

	frame, chain := encodeFrame(w.header.Salt, FrameTypePageImage, payload, prevChain)

	if action, ok := failpointAt(SiteWriteFrame); ok {
		switch action {
		case failError:
			return dberrors.New(dberrors.IO, "injected failure at "+SiteWriteFrame, "")
		case failPartialWrite:
			frame = frame[:len(frame)/2]
		}
	}

	if _, err := w.file.WriteAt(frame, offset); err != nil {
		return dberrors.Wrap(dberrors.IO, "append WAL page image frame", err)
	}

	w.mu.Lock()
	w.tipOffset = offset + int64(len(frame))
	w.chainCRC = chain
	w.mu.Unlock()

	wr.images[id] = offset
	return nil
}

// Commit appends a Commit frame with a fresh LSN, fsyncs, publishes the
// transaction's page images into the index atomically, and releases the
// writer slot (§4.3, §5).
func (w *Wal) Commit(wr *Writer) (storage.LSN, error) {
	defer w.writerSlot.Unlock()
	if wr.aborted {
		return 0, dberrors.New(dberrors.Transaction, "writer already finished", "")
	}
	wr.aborted = true

	w.mu.Lock()
	newLSN := w.tipLSN + 1
	offset := w.tipOffset
	prevChain := w.chainCRC
	w.mu.Unlock()

	frame, chain := encodeFrame(w.header.Salt, FrameTypeCommit, commitPayload(newLSN), prevChain)

	if action, ok := failpointAt(SiteWriteFrame); ok && action == failError {
		return 0, dberrors.New(dberrors.IO, "injected failure at "+SiteWriteFrame, "")
	}
	if _, err := w.file.WriteAt(frame, offset); err != nil {
		return 0, dberrors.Wrap(dberrors.IO, "append WAL commit frame", err)
	}

	if action, ok := failpointAt(SiteFsync); ok {
		if action == failError {
			return 0, dberrors.New(dberrors.IO, "injected failure at "+SiteFsync, "")
		}
		if action != failDropFsync {
			if err := w.file.Sync(); err != nil {
				return 0, dberrors.Wrap(dberrors.IO, "fsync WAL file", err)
			}
		}
	} else if err := w.file.Sync(); err != nil {
		return 0, dberrors.Wrap(dberrors.IO, "fsync WAL file", err)
	}

	w.mu.Lock()
	w.tipOffset = offset + int64(len(frame))
	w.chainCRC = chain
	w.tipLSN = newLSN
	w.mu.Unlock()

	w.index.publish(wr.images, newLSN)
	return newLSN, nil
}

// Rollback releases the writer slot; frames already appended to disk for
// this transaction remain but are unreferenced and ignored on recovery
// (they are never published to the index).
func (w *Wal) Rollback(wr *Writer) error {
	if wr.aborted {
		return nil
	}
	wr.aborted = true
	w.writerSlot.Unlock()
	return nil
}

// GetPageAtOrBefore binary-searches the index for the greatest image of
// pageId with lsn <= snapshot, returning its bytes if found.
func (w *Wal) GetPageAtOrBefore(pageID storage.PageID, snapshot storage.LSN) ([]byte, bool, error) {
	offset, ok := w.index.getAtOrBefore(pageID, snapshot)
	if !ok {
		return nil, false, nil
	}
	page, err := w.readPageImageAt(offset)
	if err != nil {
		return nil, false, err
	}
	return page, true, nil
}

func (w *Wal) readPageImageAt(offset int64) ([]byte, error) {
	hdr := make([]byte, frameHeaderSize)
	if _, err := w.file.ReadAt(hdr, offset); err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "read WAL frame header", err)
	}
	payloadLen := int(binary.LittleEndian.Uint32(hdr[1:5]))
	payload := make([]byte, payloadLen)
	if _, err := w.file.ReadAt(payload, offset+frameHeaderSize); err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "read WAL frame payload", err)
	}
	_, page, err := decodePageImagePayload(payload)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// PagerDirectReader is the minimal pager surface readPageWithSnapshot
// falls back to when no WAL overlay exists for the page.
type PagerDirectReader interface {
	ReadPageDirect(id storage.PageID) ([]byte, error)
}

// ReadPageWithSnapshot returns the WAL overlay for pageId visible at r's
// snapshot if one exists, else the pager's on-disk image (§4.3). Fails with
// dberrors.Transaction if r was force-aborted by checkReaderStalls: a
// reader past ReaderTimeoutMs under ForceTruncateOnTimeout may have had its
// snapshot's WAL frames truncated out from under it, so every subsequent
// read through it must fail rather than risk serving stale or missing
// data (§4.3, §5 "subsequent reads by them fail").
func (w *Wal) ReadPageWithSnapshot(r *ReadTxn, pageID storage.PageID, pager PagerDirectReader) ([]byte, error) {
	if r.ReaderAborted() {
		return nil, dberrors.New(dberrors.Transaction, "read through aborted reader", "")
	}
	if page, ok, err := w.GetPageAtOrBefore(pageID, r.SnapshotLSN); err != nil {
		return nil, err
	} else if ok {
		return page, nil
	}
	return pager.ReadPageDirect(pageID)
}

// Close closes the underlying WAL file without an implicit fsync.
func (w *Wal) Close() error {
	return w.file.Close()
}
