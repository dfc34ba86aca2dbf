package pager

import (
	"encoding/binary"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
)

// Freelist page layout (§6): {type u8, reserved u8, count u16, next PageId
// u32, entries (u32 each)...}. Header is 8 bytes; capacity is whatever
// remains divided into 4-byte PageId entries.
const (
	flReservedOff = 1
	flCountOff    = 2
	flNextOff     = 4
	flDataOff     = 8
	flEntrySize   = 4
)

func freelistCapacity(pageSize int) int {
	return (pageSize - flDataOff) / flEntrySize
}

type freelistPage struct {
	buf []byte
}

func wrapFreelistPage(buf []byte) *freelistPage { return &freelistPage{buf: buf} }

func initFreelistPage(buf []byte) *freelistPage {
	buf[0] = byte(storage.PageTypeFreelist)
	buf[flReservedOff] = 0
	binary.LittleEndian.PutUint16(buf[flCountOff:], 0)
	binary.LittleEndian.PutUint32(buf[flNextOff:], uint32(storage.InvalidPageID))
	return &freelistPage{buf: buf}
}

func (fl *freelistPage) count() int {
	return int(binary.LittleEndian.Uint16(fl.buf[flCountOff:]))
}

func (fl *freelistPage) setCount(n int) {
	binary.LittleEndian.PutUint16(fl.buf[flCountOff:], uint16(n))
}

func (fl *freelistPage) next() storage.PageID {
	return storage.PageID(binary.LittleEndian.Uint32(fl.buf[flNextOff:]))
}

func (fl *freelistPage) setNext(id storage.PageID) {
	binary.LittleEndian.PutUint32(fl.buf[flNextOff:], uint32(id))
}

func (fl *freelistPage) entry(i int) storage.PageID {
	off := flDataOff + i*flEntrySize
	return storage.PageID(binary.LittleEndian.Uint32(fl.buf[off:]))
}

func (fl *freelistPage) append(id storage.PageID, pageSize int) bool {
	n := fl.count()
	if n >= freelistCapacity(pageSize) {
		return false
	}
	off := flDataOff + n*flEntrySize
	binary.LittleEndian.PutUint32(fl.buf[off:], uint32(id))
	fl.setCount(n + 1)
	return true
}

func (fl *freelistPage) entries() []storage.PageID {
	n := fl.count()
	out := make([]storage.PageID, n)
	for i := 0; i < n; i++ {
		out[i] = fl.entry(i)
	}
	return out
}

// freeSet is the in-memory mirror of the on-disk freelist chain, loaded at
// open and rewritten wholesale at checkpoint/close. The pager is the only
// writer (§5, "the freelist and DB header are mutated only by the writer
// and checkpoint").
type freeSet struct {
	ids  map[storage.PageID]struct{}
	head storage.PageID
}

func newFreeSet() *freeSet {
	return &freeSet{ids: make(map[storage.PageID]struct{})}
}

func (f *freeSet) pop() (storage.PageID, bool) {
	for id := range f.ids {
		delete(f.ids, id)
		return id, true
	}
	return storage.InvalidPageID, false
}

func (f *freeSet) push(id storage.PageID) {
	f.ids[id] = struct{}{}
}

func (f *freeSet) count() int { return len(f.ids) }

func (f *freeSet) all() []storage.PageID {
	out := make([]storage.PageID, 0, len(f.ids))
	for id := range f.ids {
		out = append(out, id)
	}
	return out
}

// loadFreelist walks the on-disk chain starting at head, populating fs.
func loadFreelist(fs *freeSet, head storage.PageID, readDirect func(storage.PageID) ([]byte, error)) error {
	fs.head = head
	id := head
	for id != storage.InvalidPageID {
		buf, err := readDirect(id)
		if err != nil {
			return dberrors.Wrap(dberrors.Corruption, "read freelist page", err)
		}
		if storage.PageTypeOf(buf) != storage.PageTypeFreelist {
			return dberrors.New(dberrors.Corruption, "freelist chain page has wrong type tag", "")
		}
		fl := wrapFreelistPage(buf)
		for _, e := range fl.entries() {
			fs.ids[e] = struct{}{}
		}
		id = fl.next()
	}
	return nil
}

// flushFreelist serializes fs into a chain of freelist pages via allocRaw
// (which must not itself consult fs, to avoid mutating it mid-flush) and
// writeRaw, returning the new chain head.
func flushFreelist(fs *freeSet, pageSize int, allocRaw func() storage.PageID, writeRaw func(storage.PageID, []byte) error) (storage.PageID, error) {
	ids := fs.all()
	if len(ids) == 0 {
		return storage.InvalidPageID, nil
	}
	cap := freelistCapacity(pageSize)
	var head storage.PageID
	var prevID storage.PageID
	var prevBuf []byte
	for i := 0; i < len(ids); i += cap {
		end := i + cap
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]
		id := allocRaw()
		buf := storage.NewZeroPage(pageSize, storage.PageTypeFreelist)
		fl := initFreelistPage(buf)
		for _, e := range chunk {
			fl.append(e, pageSize)
		}
		if prevBuf != nil {
			wrapFreelistPage(prevBuf).setNext(id)
			if err := writeRaw(prevID, prevBuf); err != nil {
				return storage.InvalidPageID, err
			}
		} else {
			head = id
		}
		prevID, prevBuf = id, buf
	}
	if prevBuf != nil {
		if err := writeRaw(prevID, prevBuf); err != nil {
			return storage.InvalidPageID, err
		}
	}
	fs.head = head
	return head, nil
}
