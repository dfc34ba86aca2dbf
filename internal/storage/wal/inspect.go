package wal

import (
	"os"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
)

// Summary is a human-readable snapshot of a WAL file's on-disk state, used
// by the decentdb-inspect CLI. It is built by the same frame-scanning
// logic as recover(), but read-only: it never truncates a torn tail.
type Summary struct {
	FormatVersion uint32
	PageSize      uint32
	Salt          uint64
	FileSize      int64
	TipLSN        storage.LSN
	GoodOffset    int64
	TornTail      bool
	CommitFrames  int
	PageFrames    int
}

// Inspect opens path read-only and scans its frame chain without mutating
// anything, reporting the same committed tip a live Wal would recover to.
func Inspect(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "open WAL file for inspection", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "stat WAL file", err)
	}
	size := fi.Size()

	hdrBuf := make([]byte, HeaderSize)
	if size < HeaderSize {
		return nil, dberrors.New(dberrors.Corruption, "WAL file shorter than header", "")
	}
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "read WAL header", err)
	}
	hdr, err := DecodeHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		FormatVersion: hdr.FormatVersion,
		PageSize:      hdr.PageSize,
		Salt:          hdr.Salt,
		FileSize:      size,
		GoodOffset:    HeaderSize,
	}
	if size <= HeaderSize {
		return s, nil
	}

	body := make([]byte, size-HeaderSize)
	if _, err := f.ReadAt(body, HeaderSize); err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "read WAL body", err)
	}

	offset := int64(0)
	chain := uint32(0)

scan:
	for offset < int64(len(body)) {
		df, err := decodeFrameAt(body[offset:], hdr.Salt, chain)
		if err != nil {
			break scan
		}
		switch df.typ {
		case FrameTypePageImage:
			if _, _, perr := decodePageImagePayload(df.payload); perr != nil {
				break scan
			}
			s.PageFrames++
		case FrameTypeCommit:
			lsn, cerr := decodeCommitPayload(df.payload)
			if cerr != nil {
				break scan
			}
			s.CommitFrames++
			s.TipLSN = lsn
			s.GoodOffset = HeaderSize + offset + df.frameLen
		}
		chain = df.nextChain
		offset += df.frameLen
	}
	s.TornTail = s.GoodOffset < size
	return s, nil
}
