// Package btree implements the durable ordered map of u64 key to
// byte-sequence value built atop the pager: leaf/internal node codecs,
// descent and split, cursors, bulk load, and utilization metrics (§4.4).
package btree

import (
	"encoding/binary"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
)

// Leaf/Internal page header (§3, §6): {type u8, reserved u8, count u16,
// nextLeaf-or-rightChild u32} — 8 bytes, matching the freelist/overflow
// page header shape used elsewhere in the pager.
const (
	nodeReservedOff = 1
	nodeCountOff    = 2
	nodeSiblingOff  = 4
	nodeHeaderSize  = 8

	corruptCount = 0xFFFF
)

// leafCellFixedSize is {key u64, valueFlag u8, inlineLen u16,
// overflowPage u32, overflowLen u32} preceding the inline bytes.
const leafCellFixedSize = 8 + 1 + 2 + 4 + 4

// internalEntrySize is {separatorKey u64, childPage u32}.
const internalEntrySize = 8 + 4

const (
	valueFlagInline   = 0
	valueFlagOverflow = 1
)

// MaxLeafInlineValueBytes is the largest value that can be stored inline
// in a leaf cell for the given page size, leaving room for at least two
// cells per leaf page (§4.4): half the page body minus one cell's fixed
// part, capped at 512 bytes.
func MaxLeafInlineValueBytes(pageSize int) int {
	v := (pageSize-nodeHeaderSize)/2 - leafCellFixedSize
	if v > 512 {
		v = 512
	}
	if v < 0 {
		v = 0
	}
	return v
}

// leafCell is a decoded leaf entry: key, and either the value inline or a
// reference to its overflow chain.
type leafCell struct {
	key          uint64
	overflow     bool
	inline       []byte
	overflowPage storage.PageID
	overflowLen  uint32
}

func (c *leafCell) encodedSize() int { return leafCellFixedSize + len(c.inline) }

func (c *leafCell) totalValueLen() int {
	if c.overflow {
		return int(c.overflowLen)
	}
	return len(c.inline)
}

// internalEntry is a decoded internal separator: keys <= separatorKey
// descend into childPage.
type internalEntry struct {
	separatorKey uint64
	childPage    storage.PageID
}

// leafNode is a decoded Leaf page: header fields plus its cells in
// ascending key order. Cells are variable-length on disk, so decoding
// unpacks them into a slice and searches happen against that slice
// (binary search over the decoded in-memory vector, not raw byte offsets).
type leafNode struct {
	nextLeaf storage.PageID
	cells    []leafCell
}

// internalNode is a decoded Internal page: fixed-width entries plus the
// catch-all rightChild for keys greater than the largest separator.
type internalNode struct {
	rightChild storage.PageID
	entries    []internalEntry
}

func pageTypeAt(buf []byte) storage.PageType { return storage.PageTypeOf(buf) }

func readCount(buf []byte) int {
	return int(binary.LittleEndian.Uint16(buf[nodeCountOff:]))
}

// decodeLeaf parses a Leaf page, validating that the declared count does
// not read past the page bounds (§4.4 corrupt-page handling).
func decodeLeaf(buf []byte) (*leafNode, error) {
	if pageTypeAt(buf) != storage.PageTypeLeaf {
		return nil, dberrors.New(dberrors.Corruption, "expected Leaf page", "")
	}
	count := readCount(buf)
	if count == corruptCount {
		return nil, dberrors.New(dberrors.Corruption, "leaf page declares sentinel count 0xFFFF", "")
	}
	n := &leafNode{
		nextLeaf: storage.PageID(binary.LittleEndian.Uint32(buf[nodeSiblingOff:])),
		cells:    make([]leafCell, 0, count),
	}
	off := nodeHeaderSize
	for i := 0; i < count; i++ {
		if off+leafCellFixedSize > len(buf) {
			return nil, dberrors.New(dberrors.Corruption, "leaf cell header reads past page bounds", "")
		}
		key := binary.LittleEndian.Uint64(buf[off:])
		flag := buf[off+8]
		inlineLen := int(binary.LittleEndian.Uint16(buf[off+9:]))
		overflowPage := storage.PageID(binary.LittleEndian.Uint32(buf[off+11:]))
		overflowLen := binary.LittleEndian.Uint32(buf[off+15:])
		cellEnd := off + leafCellFixedSize + inlineLen
		if cellEnd > len(buf) {
			return nil, dberrors.New(dberrors.Corruption, "leaf cell inline bytes read past page bounds", "")
		}
		inline := make([]byte, inlineLen)
		copy(inline, buf[off+leafCellFixedSize:cellEnd])
		n.cells = append(n.cells, leafCell{
			key:          key,
			overflow:     flag == valueFlagOverflow,
			inline:       inline,
			overflowPage: overflowPage,
			overflowLen:  overflowLen,
		})
		off = cellEnd
	}
	return n, nil
}

// encodeLeaf packs n into a fresh page-sized buffer. Returns Corruption if
// the cells don't fit (callers are expected to have already split).
func encodeLeaf(n *leafNode, pageSize int) ([]byte, error) {
	buf := storage.NewZeroPage(pageSize, storage.PageTypeLeaf)
	if len(n.cells) >= corruptCount {
		return nil, dberrors.New(dberrors.Corruption, "too many leaf cells to encode", "")
	}
	binary.LittleEndian.PutUint16(buf[nodeCountOff:], uint16(len(n.cells)))
	binary.LittleEndian.PutUint32(buf[nodeSiblingOff:], uint32(n.nextLeaf))
	off := nodeHeaderSize
	for _, c := range n.cells {
		end := off + c.encodedSize()
		if end > len(buf) {
			return nil, dberrors.New(dberrors.Corruption, "leaf page overflowed during encode", "")
		}
		binary.LittleEndian.PutUint64(buf[off:], c.key)
		flag := byte(valueFlagInline)
		if c.overflow {
			flag = valueFlagOverflow
		}
		buf[off+8] = flag
		binary.LittleEndian.PutUint16(buf[off+9:], uint16(len(c.inline)))
		binary.LittleEndian.PutUint32(buf[off+11:], uint32(c.overflowPage))
		binary.LittleEndian.PutUint32(buf[off+15:], c.overflowLen)
		copy(buf[off+leafCellFixedSize:end], c.inline)
		off = end
	}
	return buf, nil
}

func decodeInternal(buf []byte) (*internalNode, error) {
	if pageTypeAt(buf) != storage.PageTypeInternal {
		return nil, dberrors.New(dberrors.Corruption, "expected Internal page", "")
	}
	count := readCount(buf)
	if count == corruptCount {
		return nil, dberrors.New(dberrors.Corruption, "internal page declares sentinel count 0xFFFF", "")
	}
	n := &internalNode{
		rightChild: storage.PageID(binary.LittleEndian.Uint32(buf[nodeSiblingOff:])),
		entries:    make([]internalEntry, 0, count),
	}
	off := nodeHeaderSize
	for i := 0; i < count; i++ {
		end := off + internalEntrySize
		if end > len(buf) {
			return nil, dberrors.New(dberrors.Corruption, "internal entry reads past page bounds", "")
		}
		n.entries = append(n.entries, internalEntry{
			separatorKey: binary.LittleEndian.Uint64(buf[off:]),
			childPage:    storage.PageID(binary.LittleEndian.Uint32(buf[off+8:])),
		})
		off = end
	}
	return n, nil
}

func encodeInternal(n *internalNode, pageSize int) ([]byte, error) {
	buf := storage.NewZeroPage(pageSize, storage.PageTypeInternal)
	if len(n.entries) >= corruptCount {
		return nil, dberrors.New(dberrors.Corruption, "too many internal entries to encode", "")
	}
	if nodeHeaderSize+len(n.entries)*internalEntrySize > len(buf) {
		return nil, dberrors.New(dberrors.Corruption, "internal page overflowed during encode", "")
	}
	binary.LittleEndian.PutUint16(buf[nodeCountOff:], uint16(len(n.entries)))
	binary.LittleEndian.PutUint32(buf[nodeSiblingOff:], uint32(n.rightChild))
	off := nodeHeaderSize
	for _, e := range n.entries {
		binary.LittleEndian.PutUint64(buf[off:], e.separatorKey)
		binary.LittleEndian.PutUint32(buf[off+8:], uint32(e.childPage))
		off += internalEntrySize
	}
	return buf, nil
}

// maxInternalEntries reports how many fixed-width entries fit on a page.
func maxInternalEntries(pageSize int) int {
	return (pageSize - nodeHeaderSize) / internalEntrySize
}
