// Package wal implements the append-only write-ahead log: frame encoding,
// commit LSNs, the in-memory page index used for snapshot reads, the
// reader registry, checkpointing, and crash recovery (§4.3).
package wal

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/sphildreth/decentdb/internal/dberrors"
)

// WAL header layout (§6, 32 bytes): magic "DDBWAL__"; formatVersion u32;
// pageSize u32; salt u64; reserved u64.
const (
	HeaderSize = 32
	Magic      = "DDBWAL__"

	hdrMagicOff   = 0
	hdrVersionOff = 8
	hdrPageSzOff  = 12
	hdrSaltOff    = 16
	hdrRsvdOff    = 24

	CurrentFormatVersion uint32 = 1
)

// Header is the parsed 32-byte WAL file header.
type Header struct {
	FormatVersion uint32
	PageSize      uint32
	Salt          uint64
}

// newSalt draws 8 random bytes from a fresh UUIDv4 — a convenient,
// collision-resistant seed for the WAL's torn-write checksum chain,
// generated once when the WAL file is first created.
func newSalt() uint64 {
	id := uuid.New()
	return binary.LittleEndian.Uint64(id[:8])
}

// NewHeader builds a fresh WAL header for a newly created WAL file.
func NewHeader(pageSize uint32) *Header {
	return &Header{FormatVersion: CurrentFormatVersion, PageSize: pageSize, Salt: newSalt()}
}

// EncodeHeader serializes h into a HeaderSize-byte block.
func EncodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[hdrMagicOff:hdrMagicOff+8], Magic)
	binary.LittleEndian.PutUint32(buf[hdrVersionOff:], h.FormatVersion)
	binary.LittleEndian.PutUint32(buf[hdrPageSzOff:], h.PageSize)
	binary.LittleEndian.PutUint64(buf[hdrSaltOff:], h.Salt)
	return buf
}

// DecodeHeader parses and validates a WAL header.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, dberrors.New(dberrors.Corruption, "WAL header buffer too short", "")
	}
	if string(buf[hdrMagicOff:hdrMagicOff+8]) != Magic {
		return nil, dberrors.New(dberrors.Corruption, "bad WAL header magic", "")
	}
	return &Header{
		FormatVersion: binary.LittleEndian.Uint32(buf[hdrVersionOff:]),
		PageSize:      binary.LittleEndian.Uint32(buf[hdrPageSzOff:]),
		Salt:          binary.LittleEndian.Uint64(buf[hdrSaltOff:]),
	}, nil
}
