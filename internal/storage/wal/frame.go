package wal

import (
	"encoding/binary"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
)

// FrameType tags each WAL frame (§3, §6).
type FrameType uint8

const (
	FrameTypePageImage FrameType = 1
	FrameTypeCommit    FrameType = 2
)

// frameTrailerSize is the 8-byte trailer: a 4-byte frame checksum plus a
// 4-byte running chain checksum. The spec names "CRC32C of {salt, type,
// payload} plus a small running checksum chained from the previous frame"
// without pinning down the exact construction; this implementation chains
// CRC32C(prevChain || frameCRC) frame to frame, so that any single
// corrupted or truncated frame anywhere in the file breaks every chain
// checksum after it, not just its own (see DESIGN.md).
const frameTrailerSize = 8

// frameHeaderSize is {type u8, payloadLen u32}.
const frameHeaderSize = 5

// encodeFrame serializes a frame and advances the checksum chain. prevChain
// is the chain checksum of the prior frame (0 for the first frame in the
// file). Returns the encoded bytes and the new chain checksum.
func encodeFrame(salt uint64, typ FrameType, payload []byte, prevChain uint32) ([]byte, uint32) {
	buf := make([]byte, frameHeaderSize+len(payload)+frameTrailerSize)
	buf[0] = byte(typ)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)

	frameCRC := computeFrameCRC(salt, typ, payload)
	chainCRC := computeChainCRC(prevChain, frameCRC)

	trailerOff := frameHeaderSize + len(payload)
	binary.LittleEndian.PutUint32(buf[trailerOff:], frameCRC)
	binary.LittleEndian.PutUint32(buf[trailerOff+4:], chainCRC)
	return buf, chainCRC
}

func computeFrameCRC(salt uint64, typ FrameType, payload []byte) uint32 {
	var saltBuf [8]byte
	binary.LittleEndian.PutUint64(saltBuf[:], salt)
	buf := make([]byte, 0, 8+1+len(payload))
	buf = append(buf, saltBuf[:]...)
	buf = append(buf, byte(typ))
	buf = append(buf, payload...)
	return storage.CRC32C(buf)
}

func computeChainCRC(prevChain, frameCRC uint32) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], prevChain)
	binary.LittleEndian.PutUint32(b[4:8], frameCRC)
	return storage.CRC32C(b[:])
}

// decodedFrame is a parsed, verified frame plus its encoded length and the
// chain checksum it produced. decodeFrameAt does not fill in offset; the
// caller tracks where each frame starts.
type decodedFrame struct {
	typ       FrameType
	payload   []byte
	offset    int64
	nextChain uint32
	frameLen  int64
}

// decodeFrameAt parses one frame starting at offset within buf (buf holds
// the whole WAL body from that offset onward). Returns dberrors.Corruption
// if the frame's checksums don't verify against salt/prevChain — callers
// treat that as "stop here, the rest is a torn tail" during recovery, not
// necessarily an error to propagate.
func decodeFrameAt(buf []byte, salt uint64, prevChain uint32) (*decodedFrame, error) {
	if len(buf) < frameHeaderSize {
		return nil, dberrors.New(dberrors.Corruption, "short frame header", "")
	}
	typ := FrameType(buf[0])
	payloadLen := binary.LittleEndian.Uint32(buf[1:5])
	total := frameHeaderSize + int(payloadLen) + frameTrailerSize
	if total > len(buf) {
		return nil, dberrors.New(dberrors.Corruption, "frame extends past available bytes", "")
	}
	payload := buf[frameHeaderSize : frameHeaderSize+int(payloadLen)]
	trailerOff := frameHeaderSize + int(payloadLen)
	storedFrameCRC := binary.LittleEndian.Uint32(buf[trailerOff:])
	storedChainCRC := binary.LittleEndian.Uint32(buf[trailerOff+4:])

	wantFrameCRC := computeFrameCRC(salt, typ, payload)
	if wantFrameCRC != storedFrameCRC {
		return nil, dberrors.New(dberrors.Corruption, "WAL frame checksum mismatch", "")
	}
	wantChainCRC := computeChainCRC(prevChain, wantFrameCRC)
	if wantChainCRC != storedChainCRC {
		return nil, dberrors.New(dberrors.Corruption, "WAL frame chain checksum mismatch", "")
	}
	switch typ {
	case FrameTypePageImage, FrameTypeCommit:
	default:
		return nil, dberrors.New(dberrors.Corruption, "unknown WAL frame type", "")
	}
	return &decodedFrame{typ: typ, payload: payload, nextChain: wantChainCRC, frameLen: int64(total)}, nil
}

// pageImagePayload encodes {pageId u32, page bytes}.
func pageImagePayload(id storage.PageID, page []byte) []byte {
	buf := make([]byte, 4+len(page))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(id))
	copy(buf[4:], page)
	return buf
}

func decodePageImagePayload(payload []byte) (storage.PageID, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, dberrors.New(dberrors.Corruption, "page image payload too short", "")
	}
	id := storage.PageID(binary.LittleEndian.Uint32(payload[0:4]))
	return id, payload[4:], nil
}

// commitPayload encodes {commitLsn u64}.
func commitPayload(lsn storage.LSN) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(lsn))
	return buf
}

func decodeCommitPayload(payload []byte) (storage.LSN, error) {
	if len(payload) < 8 {
		return 0, dberrors.New(dberrors.Corruption, "commit payload too short", "")
	}
	return storage.LSN(binary.LittleEndian.Uint64(payload)), nil
}
