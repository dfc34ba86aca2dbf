// Package storage holds the types and byte-level formats shared by the
// pager, WAL, and B+Tree: page identifiers, the page-type tag, and the
// fixed 128-byte DB header that lives at offset 0 of the main file.
package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/sphildreth/decentdb/internal/dberrors"
)

// PageID is an unsigned 32-bit, non-zero page identifier. Page 0 is the
// header zone; user pages start at 1.
type PageID uint32

// InvalidPageID marks a null page pointer (freelist tail, absent overflow).
const InvalidPageID PageID = 0

// LSN is a monotonically increasing Log Sequence Number assigned by the WAL.
type LSN uint64

// PageType is the single-byte tag at the start of every page.
type PageType uint8

const (
	PageTypeLeaf      PageType = 1
	PageTypeInternal  PageType = 2
	PageTypeOverflow  PageType = 3
	PageTypeFreelist  PageType = 4
	PageTypeMeta      PageType = 5
)

func (t PageType) String() string {
	switch t {
	case PageTypeLeaf:
		return "Leaf"
	case PageTypeInternal:
		return "Internal"
	case PageTypeOverflow:
		return "Overflow"
	case PageTypeFreelist:
		return "Freelist"
	case PageTypeMeta:
		return "Meta"
	default:
		return "Unknown"
	}
}

// DefaultPageSize is the default fixed page size in bytes.
const DefaultPageSize = 4096

// MinPageSize and MaxPageSize bound the configurable page size.
const (
	MinPageSize = 512
	MaxPageSize = 65536
)

// crcTable is the CRC32-C (Castagnoli) table used by the header and WAL.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the Castagnoli CRC32 of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// PageTypeOf reads the page-type tag from the first byte of buf.
func PageTypeOf(buf []byte) PageType { return PageType(buf[0]) }

// NewZeroPage allocates a zeroed page buffer of pageSize with the type tag set.
func NewZeroPage(pageSize int, t PageType) []byte {
	buf := make([]byte, pageSize)
	buf[0] = byte(t)
	return buf
}

// ───────────────────────────────────────────────────────────────────────────
// DB Header — page 0, 128 bytes (§4.1, §6)
// ───────────────────────────────────────────────────────────────────────────

const (
	// HeaderSize is the fixed size of the DB header block.
	HeaderSize = 128

	// Magic identifies a decentdb file: "DECENTDB" padded to 16 bytes.
	Magic = "DECENTDB"

	// CurrentFormatVersion is the on-disk format version this build writes.
	CurrentFormatVersion uint32 = 1

	hdrMagicOff         = 0  // 16 bytes
	hdrFormatVersionOff = 16 // 4 bytes
	hdrPageSizeOff      = 20 // 4 bytes
	hdrSchemaCookieOff  = 24 // 4 bytes
	hdrRootCatalogOff   = 28 // 4 bytes
	hdrRootFreelistOff  = 32 // 4 bytes
	hdrFreelistHeadOff  = 36 // 4 bytes
	hdrFreelistCountOff = 40 // 4 bytes
	hdrCheckpointLSNOff = 44 // 8 bytes
	// bytes [52, HeaderSize-4) are reserved, zero-filled.
	hdrCRCOff = HeaderSize - 4 // 4 bytes
)

// Header is the parsed contents of page 0.
type Header struct {
	FormatVersion     uint32
	PageSize          uint32
	SchemaCookie      uint32
	RootCatalog       PageID
	RootFreelist      PageID
	FreelistHead      PageID
	FreelistCount     uint32
	LastCheckpointLSN LSN
}

// NewHeader builds a fresh header for a newly created database file.
func NewHeader(pageSize uint32) *Header {
	return &Header{
		FormatVersion: CurrentFormatVersion,
		PageSize:      pageSize,
	}
}

// EncodeHeader serializes h into a fully padded HeaderSize-byte block with
// a freshly computed CRC32C over bytes [0, HeaderSize-4).
func EncodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[hdrMagicOff:hdrMagicOff+16], Magic) // short strings leave the tail zero
	binary.LittleEndian.PutUint32(buf[hdrFormatVersionOff:], h.FormatVersion)
	binary.LittleEndian.PutUint32(buf[hdrPageSizeOff:], h.PageSize)
	binary.LittleEndian.PutUint32(buf[hdrSchemaCookieOff:], h.SchemaCookie)
	binary.LittleEndian.PutUint32(buf[hdrRootCatalogOff:], uint32(h.RootCatalog))
	binary.LittleEndian.PutUint32(buf[hdrRootFreelistOff:], uint32(h.RootFreelist))
	binary.LittleEndian.PutUint32(buf[hdrFreelistHeadOff:], uint32(h.FreelistHead))
	binary.LittleEndian.PutUint32(buf[hdrFreelistCountOff:], h.FreelistCount)
	binary.LittleEndian.PutUint64(buf[hdrCheckpointLSNOff:], uint64(h.LastCheckpointLSN))
	binary.LittleEndian.PutUint32(buf[hdrCRCOff:], CRC32C(buf[:hdrCRCOff]))
	return buf
}

// DecodeHeaderUnsafe parses buf without checking the CRC, only the length.
func DecodeHeaderUnsafe(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, dberrors.New(dberrors.Corruption, "header buffer too short", "")
	}
	return &Header{
		FormatVersion:     binary.LittleEndian.Uint32(buf[hdrFormatVersionOff:]),
		PageSize:          binary.LittleEndian.Uint32(buf[hdrPageSizeOff:]),
		SchemaCookie:      binary.LittleEndian.Uint32(buf[hdrSchemaCookieOff:]),
		RootCatalog:       PageID(binary.LittleEndian.Uint32(buf[hdrRootCatalogOff:])),
		RootFreelist:      PageID(binary.LittleEndian.Uint32(buf[hdrRootFreelistOff:])),
		FreelistHead:      PageID(binary.LittleEndian.Uint32(buf[hdrFreelistHeadOff:])),
		FreelistCount:     binary.LittleEndian.Uint32(buf[hdrFreelistCountOff:]),
		LastCheckpointLSN: LSN(binary.LittleEndian.Uint64(buf[hdrCheckpointLSNOff:])),
	}, nil
}

// DecodeHeader parses and validates magic, CRC, and format version.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, dberrors.New(dberrors.Corruption, "header buffer too short", "")
	}
	if string(buf[hdrMagicOff:hdrMagicOff+8]) != Magic {
		return nil, dberrors.New(dberrors.Corruption, "bad header magic", "")
	}
	stored := binary.LittleEndian.Uint32(buf[hdrCRCOff:])
	computed := CRC32C(buf[:hdrCRCOff])
	if stored != computed {
		return nil, dberrors.New(dberrors.Corruption, "header CRC mismatch", "")
	}
	h, err := DecodeHeaderUnsafe(buf)
	if err != nil {
		return nil, err
	}
	if h.FormatVersion != CurrentFormatVersion {
		return nil, dberrors.New(dberrors.Corruption, "unsupported format version", "")
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize || h.PageSize&(h.PageSize-1) != 0 {
		return nil, dberrors.New(dberrors.Corruption, "invalid page size in header", "")
	}
	return h, nil
}

// HeaderMagicOk reports whether buf starts with a valid magic, without
// validating CRC or version — used to tell "not our file" from "corrupt".
func HeaderMagicOk(buf []byte) bool {
	return len(buf) >= 8 && string(buf[hdrMagicOff:hdrMagicOff+8]) == Magic
}
