package btree

import (
	"sort"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/storage/pager"
)

// BTree is a handle over a durable ordered map of u64 key to byte-sequence
// value, rooted at a page the caller owns and persists elsewhere (the
// catalog, in the full system). The tree never caches its own root beyond
// this handle's lifetime; Root reports the current value after any
// root-splitting insert (§4.4).
type BTree struct {
	p        *pager.Pager
	root     storage.PageID
	pageSize int
}

// New constructs a handle over an existing root page.
func New(p *pager.Pager, root storage.PageID) *BTree {
	return &BTree{p: p, root: root, pageSize: p.PageSize()}
}

// InitRoot allocates a fresh, empty leaf page and returns its PageId for
// use as a new tree's root.
func InitRoot(p *pager.Pager) (storage.PageID, error) {
	id, err := p.AllocatePage()
	if err != nil {
		return storage.InvalidPageID, err
	}
	buf, err := encodeLeaf(&leafNode{nextLeaf: storage.InvalidPageID}, p.PageSize())
	if err != nil {
		return storage.InvalidPageID, err
	}
	if err := p.WritePage(id, buf); err != nil {
		return storage.InvalidPageID, err
	}
	return id, nil
}

// Root reports the tree's current root PageId.
func (t *BTree) Root() storage.PageID { return t.root }

func (t *BTree) readLeaf(id storage.PageID) (*leafNode, error) {
	buf, err := t.p.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return decodeLeaf(buf)
}

func (t *BTree) readInternal(id storage.PageID) (*internalNode, error) {
	buf, err := t.p.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return decodeInternal(buf)
}

// descendToLeaf walks from root to the leaf that would hold key,
// binary-searching separators at each Internal node (§4.4 Descent).
func (t *BTree) descendToLeaf(key uint64) (storage.PageID, error) {
	id := t.root
	for {
		buf, err := t.p.ReadPage(id)
		if err != nil {
			return storage.InvalidPageID, err
		}
		switch pageTypeAt(buf) {
		case storage.PageTypeLeaf:
			return id, nil
		case storage.PageTypeInternal:
			n, err := decodeInternal(buf)
			if err != nil {
				return storage.InvalidPageID, err
			}
			p := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].separatorKey >= key })
			if p == len(n.entries) {
				id = n.rightChild
			} else {
				id = n.entries[p].childPage
			}
		default:
			return storage.InvalidPageID, dberrors.New(dberrors.Corruption, "unexpected page type during descent", "")
		}
	}
}

func (t *BTree) materialize(c *leafCell) ([]byte, error) {
	if !c.overflow {
		out := make([]byte, len(c.inline))
		copy(out, c.inline)
		return out, nil
	}
	return t.p.ReadOverflowChain(c.overflowPage, int(c.overflowLen))
}

// Find returns the value stored for key, materializing its overflow chain
// if the value spilled (§4.4).
func (t *BTree) Find(key uint64) ([]byte, bool, error) {
	leafID, err := t.descendToLeaf(key)
	if err != nil {
		return nil, false, err
	}
	n, err := t.readLeaf(leafID)
	if err != nil {
		return nil, false, err
	}
	i := sort.Search(len(n.cells), func(i int) bool { return n.cells[i].key >= key })
	if i == len(n.cells) || n.cells[i].key != key {
		return nil, false, nil
	}
	v, err := t.materialize(&n.cells[i])
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *BTree) makeCell(key uint64, value []byte) (leafCell, error) {
	threshold := MaxLeafInlineValueBytes(t.pageSize)
	if len(value) <= threshold {
		inline := make([]byte, len(value))
		copy(inline, value)
		return leafCell{key: key, inline: inline, overflowPage: storage.InvalidPageID}, nil
	}
	start, err := t.p.WriteOverflowChain(value)
	if err != nil {
		return leafCell{}, err
	}
	return leafCell{key: key, overflow: true, overflowPage: start, overflowLen: uint32(len(value))}, nil
}

// Insert inserts or replaces the value for key. Splits propagate up; if
// the root splits, Insert reallocates a new Internal root and updates
// t.root — callers must persist the new root elsewhere (catalog).
func (t *BTree) Insert(key uint64, value []byte) error {
	sepKey, rightPage, split, err := t.insertRec(t.root, key, value)
	if err != nil {
		return err
	}
	if !split {
		return nil
	}
	newRootID, err := t.p.AllocatePage()
	if err != nil {
		return err
	}
	buf, err := encodeInternal(&internalNode{
		rightChild: rightPage,
		entries:    []internalEntry{{separatorKey: sepKey, childPage: t.root}},
	}, t.pageSize)
	if err != nil {
		return err
	}
	if err := t.p.WritePage(newRootID, buf); err != nil {
		return err
	}
	t.root = newRootID
	return nil
}

func (t *BTree) insertRec(id storage.PageID, key uint64, value []byte) (sepKey uint64, rightPage storage.PageID, split bool, err error) {
	buf, err := t.p.ReadPage(id)
	if err != nil {
		return 0, 0, false, err
	}
	switch pageTypeAt(buf) {
	case storage.PageTypeLeaf:
		return t.insertLeaf(id, buf, key, value)
	case storage.PageTypeInternal:
		return t.insertInternal(id, buf, key, value)
	default:
		return 0, 0, false, dberrors.New(dberrors.Corruption, "unexpected page type during insert", "")
	}
}

func (t *BTree) insertLeaf(id storage.PageID, buf []byte, key uint64, value []byte) (uint64, storage.PageID, bool, error) {
	n, err := decodeLeaf(buf)
	if err != nil {
		return 0, 0, false, err
	}
	cell, err := t.makeCell(key, value)
	if err != nil {
		return 0, 0, false, err
	}
	i := sort.Search(len(n.cells), func(i int) bool { return n.cells[i].key >= key })
	if i < len(n.cells) && n.cells[i].key == key {
		if n.cells[i].overflow {
			if err := t.p.FreeOverflowChain(n.cells[i].overflowPage); err != nil {
				return 0, 0, false, err
			}
		}
		n.cells[i] = cell
	} else {
		n.cells = append(n.cells, leafCell{})
		copy(n.cells[i+1:], n.cells[i:])
		n.cells[i] = cell
	}

	if fitsLeaf(n, t.pageSize) {
		encoded, err := encodeLeaf(n, t.pageSize)
		if err != nil {
			return 0, 0, false, err
		}
		if err := t.p.WritePage(id, encoded); err != nil {
			return 0, 0, false, err
		}
		return 0, 0, false, nil
	}

	mid := len(n.cells) / 2
	left := &leafNode{nextLeaf: storage.InvalidPageID, cells: n.cells[:mid]}
	right := &leafNode{nextLeaf: n.nextLeaf, cells: n.cells[mid:]}

	rightID, err := t.p.AllocatePage()
	if err != nil {
		return 0, 0, false, err
	}
	left.nextLeaf = rightID

	leftBuf, err := encodeLeaf(left, t.pageSize)
	if err != nil {
		return 0, 0, false, err
	}
	rightBuf, err := encodeLeaf(right, t.pageSize)
	if err != nil {
		return 0, 0, false, err
	}
	if err := t.p.WritePage(id, leftBuf); err != nil {
		return 0, 0, false, err
	}
	if err := t.p.WritePage(rightID, rightBuf); err != nil {
		return 0, 0, false, err
	}
	return left.cells[len(left.cells)-1].key, rightID, true, nil
}

func (t *BTree) insertInternal(id storage.PageID, buf []byte, key uint64, value []byte) (uint64, storage.PageID, bool, error) {
	n, err := decodeInternal(buf)
	if err != nil {
		return 0, 0, false, err
	}
	pos := sort.Search(len(n.entries), func(i int) bool { return n.entries[i].separatorKey >= key })
	var child storage.PageID
	if pos == len(n.entries) {
		child = n.rightChild
	} else {
		child = n.entries[pos].childPage
	}

	childSep, childRight, childSplit, err := t.insertRec(child, key, value)
	if err != nil {
		return 0, 0, false, err
	}
	if !childSplit {
		return 0, 0, false, nil
	}

	if pos == len(n.entries) {
		n.entries = append(n.entries, internalEntry{separatorKey: childSep, childPage: child})
		n.rightChild = childRight
	} else {
		n.entries = append(n.entries, internalEntry{})
		copy(n.entries[pos+1:], n.entries[pos:])
		n.entries[pos] = internalEntry{separatorKey: childSep, childPage: child}
		n.entries[pos+1].childPage = childRight
	}

	if len(n.entries) <= maxInternalEntries(t.pageSize) {
		encoded, err := encodeInternal(n, t.pageSize)
		if err != nil {
			return 0, 0, false, err
		}
		if err := t.p.WritePage(id, encoded); err != nil {
			return 0, 0, false, err
		}
		return 0, 0, false, nil
	}

	mid := len(n.entries) / 2
	promoted := n.entries[mid]
	left := &internalNode{rightChild: promoted.childPage, entries: n.entries[:mid]}
	right := &internalNode{rightChild: n.rightChild, entries: n.entries[mid+1:]}

	rightID, err := t.p.AllocatePage()
	if err != nil {
		return 0, 0, false, err
	}
	leftBuf, err := encodeInternal(left, t.pageSize)
	if err != nil {
		return 0, 0, false, err
	}
	rightBuf, err := encodeInternal(right, t.pageSize)
	if err != nil {
		return 0, 0, false, err
	}
	if err := t.p.WritePage(id, leftBuf); err != nil {
		return 0, 0, false, err
	}
	if err := t.p.WritePage(rightID, rightBuf); err != nil {
		return 0, 0, false, err
	}
	return promoted.separatorKey, rightID, true, nil
}

func fitsLeaf(n *leafNode, pageSize int) bool {
	size := nodeHeaderSize
	for _, c := range n.cells {
		size += c.encodedSize()
	}
	return size <= pageSize
}

// Delete removes the cell for key, freeing its overflow chain if any.
// Returns whether a cell was removed. Underfull leaves are left as-is;
// rebalancing is not performed (§4.4).
func (t *BTree) Delete(key uint64) (bool, error) {
	return t.deleteMatching(key, nil)
}

// DeleteKeyValue removes the cell for key only if its materialized value
// equals value, returning whether a delete occurred.
func (t *BTree) DeleteKeyValue(key uint64, value []byte) (bool, error) {
	return t.deleteMatching(key, value)
}

func (t *BTree) deleteMatching(key uint64, mustEqual []byte) (bool, error) {
	leafID, err := t.descendToLeaf(key)
	if err != nil {
		return false, err
	}
	n, err := t.readLeaf(leafID)
	if err != nil {
		return false, err
	}
	i := sort.Search(len(n.cells), func(i int) bool { return n.cells[i].key >= key })
	if i == len(n.cells) || n.cells[i].key != key {
		return false, nil
	}
	if mustEqual != nil {
		v, err := t.materialize(&n.cells[i])
		if err != nil {
			return false, err
		}
		if string(v) != string(mustEqual) {
			return false, nil
		}
	}
	if n.cells[i].overflow {
		if err := t.p.FreeOverflowChain(n.cells[i].overflowPage); err != nil {
			return false, err
		}
	}
	n.cells = append(n.cells[:i], n.cells[i+1:]...)
	encoded, err := encodeLeaf(n, t.pageSize)
	if err != nil {
		return false, err
	}
	if err := t.p.WritePage(leafID, encoded); err != nil {
		return false, err
	}
	return true, nil
}

// Update overwrites an existing key's value, replacing its overflow chain
// atomically. Returns Internal if the key does not already exist — callers
// needing upsert semantics should use Insert.
func (t *BTree) Update(key uint64, value []byte) error {
	_, found, err := t.Find(key)
	if err != nil {
		return err
	}
	if !found {
		return dberrors.New(dberrors.Internal, "update: key does not exist", "")
	}
	return t.Insert(key, value)
}
