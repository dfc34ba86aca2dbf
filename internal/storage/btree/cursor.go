package btree

import (
	"sort"

	"github.com/sphildreth/decentdb/internal/storage"
)

// Cursor produces a lazy, finite, forward-only, non-restartable sequence
// of (key, value) pairs in ascending key order (§4.4).
type Cursor struct {
	t         *BTree
	leafID    storage.PageID
	leaf      *leafNode
	idx       int
	exhausted bool
}

// OpenCursor positions a cursor at the first key in the tree.
func (t *BTree) OpenCursor() (*Cursor, error) {
	leafID, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	n, err := t.readLeaf(leafID)
	if err != nil {
		return nil, err
	}
	return &Cursor{t: t, leafID: leafID, leaf: n, idx: 0}, nil
}

// OpenCursorAt positions a cursor at the first key >= k.
func (t *BTree) OpenCursorAt(k uint64) (*Cursor, error) {
	leafID, err := t.descendToLeaf(k)
	if err != nil {
		return nil, err
	}
	n, err := t.readLeaf(leafID)
	if err != nil {
		return nil, err
	}
	idx := sort.Search(len(n.cells), func(i int) bool { return n.cells[i].key >= k })
	return &Cursor{t: t, leafID: leafID, leaf: n, idx: idx}, nil
}

// leftmostLeaf walks the leftmost child chain from root to the first leaf.
func (t *BTree) leftmostLeaf() (storage.PageID, error) {
	id := t.root
	for {
		buf, err := t.p.ReadPage(id)
		if err != nil {
			return storage.InvalidPageID, err
		}
		if pageTypeAt(buf) == storage.PageTypeLeaf {
			return id, nil
		}
		n, err := decodeInternal(buf)
		if err != nil {
			return storage.InvalidPageID, err
		}
		if len(n.entries) == 0 {
			id = n.rightChild
			continue
		}
		id = n.entries[0].childPage
	}
}

// advanceLeaf moves past end-of-leaf by following nextLeaf.
func (c *Cursor) advanceLeaf() error {
	if c.leaf.nextLeaf == storage.InvalidPageID {
		c.exhausted = true
		return nil
	}
	buf, err := c.t.p.ReadPage(c.leaf.nextLeaf)
	if err != nil {
		return err
	}
	n, err := decodeLeaf(buf)
	if err != nil {
		return err
	}
	c.leafID = c.leaf.nextLeaf
	c.leaf = n
	c.idx = 0
	return nil
}

// Next returns the next (key, value) pair, or ok=false when the cursor is
// exhausted. Not safe to call again after an error.
func (c *Cursor) Next() (key uint64, value []byte, ok bool, err error) {
	for {
		if c.exhausted {
			return 0, nil, false, nil
		}
		if c.idx >= len(c.leaf.cells) {
			if err := c.advanceLeaf(); err != nil {
				return 0, nil, false, err
			}
			continue
		}
		cell := c.leaf.cells[c.idx]
		c.idx++
		v, err := c.t.materialize(&cell)
		if err != nil {
			return 0, nil, false, err
		}
		return cell.key, v, true, nil
	}
}
