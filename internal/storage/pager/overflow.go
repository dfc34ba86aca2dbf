package pager

import (
	"encoding/binary"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
)

// Overflow page layout (§6): {type u8, reserved u8, bytesInPage u16,
// nextPage u32, payload...}. 8-byte header, matching the freelist page so
// both chain types share the same offset math at a glance.
const (
	ovReservedOff = 1
	ovLenOff      = 2
	ovNextOff     = 4
	ovDataOff     = 8
)

func overflowCapacity(pageSize int) int { return pageSize - ovDataOff }

type overflowPage struct {
	buf []byte
}

func wrapOverflowPage(buf []byte) *overflowPage { return &overflowPage{buf: buf} }

func initOverflowPage(buf []byte) *overflowPage {
	buf[0] = byte(storage.PageTypeOverflow)
	buf[ovReservedOff] = 0
	binary.LittleEndian.PutUint16(buf[ovLenOff:], 0)
	binary.LittleEndian.PutUint32(buf[ovNextOff:], uint32(storage.InvalidPageID))
	return &overflowPage{buf: buf}
}

func (op *overflowPage) bytesInPage() int {
	return int(binary.LittleEndian.Uint16(op.buf[ovLenOff:]))
}

func (op *overflowPage) setBytesInPage(n int) {
	binary.LittleEndian.PutUint16(op.buf[ovLenOff:], uint16(n))
}

func (op *overflowPage) next() storage.PageID {
	return storage.PageID(binary.LittleEndian.Uint32(op.buf[ovNextOff:]))
}

func (op *overflowPage) setNext(id storage.PageID) {
	binary.LittleEndian.PutUint32(op.buf[ovNextOff:], uint32(id))
}

func (op *overflowPage) setPayload(data []byte) {
	op.setBytesInPage(len(data))
	copy(op.buf[ovDataOff:], data)
}

func (op *overflowPage) payload() []byte {
	n := op.bytesInPage()
	return op.buf[ovDataOff : ovDataOff+n]
}

// WriteOverflowChain allocates pages and writes data in page-sized minus
// header chunks, linking nextPage. Empty input returns InvalidPageID (§4.2).
func (p *Pager) WriteOverflowChain(data []byte) (storage.PageID, error) {
	if len(data) == 0 {
		return storage.InvalidPageID, nil
	}
	cap := overflowCapacity(p.pageSize)
	var head storage.PageID
	var prevID storage.PageID
	var prevBuf []byte
	for off := 0; off < len(data); off += cap {
		end := off + cap
		if end > len(data) {
			end = len(data)
		}
		id, err := p.AllocatePage()
		if err != nil {
			return storage.InvalidPageID, err
		}
		buf := storage.NewZeroPage(p.pageSize, storage.PageTypeOverflow)
		ovp := initOverflowPage(buf)
		ovp.setPayload(data[off:end])
		if prevBuf != nil {
			wrapOverflowPage(prevBuf).setNext(id)
			if err := p.WritePage(prevID, prevBuf); err != nil {
				return storage.InvalidPageID, err
			}
		} else {
			head = id
		}
		prevID, prevBuf = id, buf
	}
	if prevBuf != nil {
		if err := p.WritePage(prevID, prevBuf); err != nil {
			return storage.InvalidPageID, err
		}
	}
	return head, nil
}

// ReadOverflowChainAll traverses the chain from start until nextPage == 0.
func (p *Pager) ReadOverflowChainAll(start storage.PageID) ([]byte, error) {
	var out []byte
	id := start
	for id != storage.InvalidPageID {
		buf, err := p.ReadPage(id)
		if err != nil {
			return nil, err
		}
		if storage.PageTypeOf(buf) != storage.PageTypeOverflow {
			return nil, dberrors.New(dberrors.Corruption, "overflow chain page has wrong type tag", "")
		}
		ovp := wrapOverflowPage(buf)
		out = append(out, ovp.payload()...)
		id = ovp.next()
	}
	return out, nil
}

// ReadOverflowChain traverses the chain collecting exactly length bytes.
func (p *Pager) ReadOverflowChain(start storage.PageID, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	id := start
	for id != storage.InvalidPageID && len(out) < length {
		buf, err := p.ReadPage(id)
		if err != nil {
			return nil, err
		}
		if storage.PageTypeOf(buf) != storage.PageTypeOverflow {
			return nil, dberrors.New(dberrors.Corruption, "overflow chain page has wrong type tag", "")
		}
		ovp := wrapOverflowPage(buf)
		remaining := length - len(out)
		payload := ovp.payload()
		if len(payload) > remaining {
			payload = payload[:remaining]
		}
		out = append(out, payload...)
		id = ovp.next()
	}
	if len(out) != length {
		return nil, dberrors.New(dberrors.Corruption, "overflow chain shorter than declared length", "")
	}
	return out, nil
}

// FreeOverflowChain traverses and frees every page in the chain.
func (p *Pager) FreeOverflowChain(start storage.PageID) error {
	id := start
	for id != storage.InvalidPageID {
		buf, err := p.ReadPage(id)
		if err != nil {
			return dberrors.Wrap(dberrors.Corruption, "free overflow chain", err)
		}
		ovp := wrapOverflowPage(buf)
		next := ovp.next()
		if err := p.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
