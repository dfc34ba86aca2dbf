package btree

import (
	"encoding/binary"

	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/storage/pager"
)

// WalkPages visits every page reachable from root — every Leaf/Internal
// node plus every page of every overflow chain referenced by a leaf
// cell — calling visit once per page with that page's PageId. It is the
// primitive the garbage collector's reachability scan is built on: the
// B+Tree package is the only place that knows how to tell a page
// reference apart from a leaf cell's inline bytes.
func WalkPages(p *pager.Pager, root storage.PageID, visit func(id storage.PageID) error) error {
	if root == storage.InvalidPageID {
		return nil
	}
	buf, err := p.ReadPage(root)
	if err != nil {
		return err
	}
	if err := visit(root); err != nil {
		return err
	}
	switch pageTypeAt(buf) {
	case storage.PageTypeLeaf:
		n, err := decodeLeaf(buf)
		if err != nil {
			return err
		}
		for _, c := range n.cells {
			if !c.overflow {
				continue
			}
			if err := walkOverflowChain(p, c.overflowPage, visit); err != nil {
				return err
			}
		}
		return nil
	case storage.PageTypeInternal:
		n, err := decodeInternal(buf)
		if err != nil {
			return err
		}
		for _, e := range n.entries {
			if err := WalkPages(p, e.childPage, visit); err != nil {
				return err
			}
		}
		return WalkPages(p, n.rightChild, visit)
	default:
		return nil
	}
}

func walkOverflowChain(p *pager.Pager, start storage.PageID, visit func(id storage.PageID) error) error {
	id := start
	for id != storage.InvalidPageID {
		if err := visit(id); err != nil {
			return err
		}
		buf, err := p.ReadPage(id)
		if err != nil {
			return err
		}
		id = storage.PageID(binary.LittleEndian.Uint32(buf[4:8]))
	}
	return nil
}
