// Package record implements the tagged-variant value codec (§2.6): a
// compact binary encoding for rows of Go scalar values, with large
// string/bytes fields spilled to overflow-page chains via the pager
// rather than kept inline, mirroring the inline/overflow split the
// B+Tree applies to whole leaf values.
package record

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/storage/pager"
)

// Wire format per row:
//
//	[0:2]  column count (uint16 LE)
//	for each column:
//	  [0]    type tag (uint8)
//	  [1..]  payload (variable, shape depends on tag)
//
// Tags 0x00-0x05 carry their payload inline. Tags 0x06/0x07 carry a
// reference to an overflow chain instead: {startPage u32 LE, totalLen
// u32 LE}; EncodeRow never emits these, only EncodeRowSpilling does.
const (
	tagNil       byte = 0x00
	tagBool      byte = 0x01
	tagInt64     byte = 0x02
	tagFloat64   byte = 0x03
	tagString    byte = 0x04
	tagBytes     byte = 0x05
	tagStringRef byte = 0x06
	tagBytesRef  byte = 0x07
)

const refPayloadSize = 4 + 4

// EncodeRow encodes row into the compact binary format, storing every
// field inline regardless of size. Callers with large fields that
// should spill to overflow chains use EncodeRowSpilling instead.
func EncodeRow(row []any) []byte {
	buf := make([]byte, 0, 2+len(row)*9)
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(row)))
	buf = append(buf, hdr[:]...)
	for _, v := range row {
		buf = appendInline(buf, v)
	}
	return buf
}

func appendInline(buf []byte, v any) []byte {
	switch val := v.(type) {
	case nil:
		return append(buf, tagNil)
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return append(buf, tagBool, b)
	case int:
		return appendInt64(buf, int64(val))
	case int64:
		return appendInt64(buf, val)
	case float64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(val))
		buf = append(buf, tagFloat64)
		return append(buf, b[:]...)
	case string:
		return appendLenPrefixed(buf, tagString, []byte(val))
	case []byte:
		return appendLenPrefixed(buf, tagBytes, val)
	default:
		return appendLenPrefixed(buf, tagString, []byte(fmt.Sprint(val)))
	}
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf = append(buf, tagInt64)
	return append(buf, b[:]...)
}

func appendLenPrefixed(buf []byte, tag byte, data []byte) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(data)))
	buf = append(buf, tag)
	buf = append(buf, b[:]...)
	return append(buf, data...)
}

// DecodeRow decodes a row produced by EncodeRow or EncodeRowSpilling
// whose fields are all inline; a row holding overflow references must
// go through DecodeRowSpilled instead, since materializing a reference
// requires the pager.
func DecodeRow(data []byte) ([]any, error) {
	row, _, err := decodeRow(data, nil)
	return row, err
}

// EncodeRowSpilling encodes row the same way as EncodeRow, except
// string/[]byte fields longer than threshold bytes are written to a
// fresh overflow chain via p and stored as a reference instead of
// inline, keeping the row's own byte-sequence small even when one
// field is large.
func EncodeRowSpilling(p *pager.Pager, row []any, threshold int) ([]byte, error) {
	buf := make([]byte, 0, 2+len(row)*9)
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(row)))
	buf = append(buf, hdr[:]...)

	for _, v := range row {
		var payload []byte
		var tag byte
		switch val := v.(type) {
		case string:
			payload, tag = []byte(val), tagStringRef
		case []byte:
			payload, tag = val, tagBytesRef
		default:
			buf = appendInline(buf, v)
			continue
		}
		if len(payload) <= threshold {
			buf = appendInline(buf, v)
			continue
		}
		start, err := p.WriteOverflowChain(payload)
		if err != nil {
			return nil, err
		}
		buf = append(buf, tag)
		var ref [refPayloadSize]byte
		binary.LittleEndian.PutUint32(ref[0:4], uint32(start))
		binary.LittleEndian.PutUint32(ref[4:8], uint32(len(payload)))
		buf = append(buf, ref[:]...)
	}
	return buf, nil
}

// DecodeRowSpilled decodes a row that may contain overflow references,
// materializing each one through p.
func DecodeRowSpilled(p *pager.Pager, data []byte) ([]any, error) {
	row, _, err := decodeRow(data, p)
	return row, err
}

// FreeRowOverflows frees every overflow chain referenced by a row
// previously produced by EncodeRowSpilling, mirroring the B+Tree's
// practice of freeing a cell's overflow chain when it is replaced or
// deleted.
func FreeRowOverflows(p *pager.Pager, data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("record: row data too short")
	}
	colCount := int(binary.LittleEndian.Uint16(data[:2]))
	off := 2
	for i := 0; i < colCount; i++ {
		if off >= len(data) {
			return fmt.Errorf("record: unexpected end of row at column %d", i)
		}
		tag := data[off]
		off++
		switch tag {
		case tagStringRef, tagBytesRef:
			if off+refPayloadSize > len(data) {
				return fmt.Errorf("record: truncated overflow reference at column %d", i)
			}
			start := storage.PageID(binary.LittleEndian.Uint32(data[off : off+4]))
			off += refPayloadSize
			if err := p.FreeOverflowChain(start); err != nil {
				return err
			}
		default:
			n, err := skipInline(tag, data[off:])
			if err != nil {
				return fmt.Errorf("record: column %d: %w", i, err)
			}
			off += n
		}
	}
	return nil
}

func decodeRow(data []byte, p *pager.Pager) ([]any, int, error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("record: row data too short")
	}
	colCount := int(binary.LittleEndian.Uint16(data[:2]))
	off := 2
	row := make([]any, colCount)

	for i := 0; i < colCount; i++ {
		if off >= len(data) {
			return nil, 0, fmt.Errorf("record: unexpected end of row at column %d", i)
		}
		tag := data[off]
		off++
		switch tag {
		case tagNil:
			row[i] = nil
		case tagBool:
			if off >= len(data) {
				return nil, 0, fmt.Errorf("record: truncated bool at column %d", i)
			}
			row[i] = data[off] != 0
			off++
		case tagInt64:
			if off+8 > len(data) {
				return nil, 0, fmt.Errorf("record: truncated int64 at column %d", i)
			}
			row[i] = int64(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
		case tagFloat64:
			if off+8 > len(data) {
				return nil, 0, fmt.Errorf("record: truncated float64 at column %d", i)
			}
			row[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
		case tagString:
			s, n, err := readLenPrefixed(data[off:])
			if err != nil {
				return nil, 0, fmt.Errorf("record: column %d: %w", i, err)
			}
			row[i] = string(s)
			off += n
		case tagBytes:
			b, n, err := readLenPrefixed(data[off:])
			if err != nil {
				return nil, 0, fmt.Errorf("record: column %d: %w", i, err)
			}
			dst := make([]byte, len(b))
			copy(dst, b)
			row[i] = dst
			off += n
		case tagStringRef, tagBytesRef:
			if p == nil {
				return nil, 0, fmt.Errorf("record: column %d holds an overflow reference; use DecodeRowSpilled", i)
			}
			if off+refPayloadSize > len(data) {
				return nil, 0, fmt.Errorf("record: truncated overflow reference at column %d", i)
			}
			start := storage.PageID(binary.LittleEndian.Uint32(data[off : off+4]))
			length := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
			off += refPayloadSize
			payload, err := p.ReadOverflowChain(start, length)
			if err != nil {
				return nil, 0, err
			}
			if tag == tagStringRef {
				row[i] = string(payload)
			} else {
				row[i] = payload
			}
		default:
			return nil, 0, fmt.Errorf("record: unknown tag 0x%02x at column %d", tag, i)
		}
	}
	return row, off, nil
}

func readLenPrefixed(data []byte) ([]byte, int, error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint16(data[:2]))
	if 2+n > len(data) {
		return nil, 0, fmt.Errorf("truncated payload")
	}
	return data[2 : 2+n], 2 + n, nil
}

// skipInline reports how many bytes (after the tag) an inline-tagged
// field occupies, for FreeRowOverflows' pass over fields it doesn't
// otherwise need to materialize.
func skipInline(tag byte, data []byte) (int, error) {
	switch tag {
	case tagNil:
		return 0, nil
	case tagBool:
		if len(data) < 1 {
			return 0, fmt.Errorf("truncated bool")
		}
		return 1, nil
	case tagInt64, tagFloat64:
		if len(data) < 8 {
			return 0, fmt.Errorf("truncated fixed-width field")
		}
		return 8, nil
	case tagString, tagBytes:
		_, n, err := readLenPrefixed(data)
		return n, err
	default:
		return 0, fmt.Errorf("unknown tag 0x%02x", tag)
	}
}
