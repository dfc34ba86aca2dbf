package btree

import (
	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/storage/pager"
)

// SortedEntry is one input row to BulkBuildFromSorted; entries must
// already be in ascending key order.
type SortedEntry struct {
	Key   uint64
	Value []byte
}

// childRef names a page already written at some level of the bulk build,
// paired with the greatest key reachable underneath it — the separator a
// parent level needs to route to everything but this level's last child.
type childRef struct {
	maxKey uint64
	page   storage.PageID
}

// BulkBuildFromSorted is the fast path: it packs leaves sequentially from
// already-sorted entries, then builds Internal levels bottom-up over the
// resulting leaf page IDs, reusing the same node codec Insert uses so the
// two paths can never disagree on page layout (§4.4). Duplicate keys are
// last-wins: when consecutive entries share a key, only the last value
// survives, matching the spec's recommended policy.
func BulkBuildFromSorted(p *pager.Pager, entries []SortedEntry) (storage.PageID, error) {
	deduped := dedupLastWins(entries)
	pageSize := p.PageSize()

	leaves, err := packLeaves(p, deduped, pageSize)
	if err != nil {
		return storage.InvalidPageID, err
	}

	level := leaves
	for len(level) > 1 {
		next, err := packInternalLevel(p, level, pageSize)
		if err != nil {
			return storage.InvalidPageID, err
		}
		level = next
	}
	return level[0].page, nil
}

func dedupLastWins(entries []SortedEntry) []SortedEntry {
	if len(entries) == 0 {
		return entries
	}
	out := make([]SortedEntry, 0, len(entries))
	for _, e := range entries {
		if n := len(out); n > 0 && out[n-1].Key == e.Key {
			out[n-1] = e
			continue
		}
		out = append(out, e)
	}
	return out
}

// packLeaves groups entries into leaf-sized chunks, allocates a page per
// chunk, wires nextLeaf forward pointers, and writes them all.
func packLeaves(p *pager.Pager, entries []SortedEntry, pageSize int) ([]childRef, error) {
	groups := make([][]leafCell, 0)
	cur := make([]leafCell, 0)
	size := nodeHeaderSize

	flush := func() {
		if len(cur) > 0 {
			groups = append(groups, cur)
			cur = nil
			size = nodeHeaderSize
		}
	}

	for _, e := range entries {
		threshold := MaxLeafInlineValueBytes(pageSize)
		var cell leafCell
		if len(e.Value) <= threshold {
			inline := make([]byte, len(e.Value))
			copy(inline, e.Value)
			cell = leafCell{key: e.Key, inline: inline, overflowPage: storage.InvalidPageID}
		} else {
			start, err := p.WriteOverflowChain(e.Value)
			if err != nil {
				return nil, err
			}
			cell = leafCell{key: e.Key, overflow: true, overflowPage: start, overflowLen: uint32(len(e.Value))}
		}
		if size+cell.encodedSize() > pageSize && len(cur) > 0 {
			flush()
		}
		cur = append(cur, cell)
		size += cell.encodedSize()
	}
	flush()

	if len(groups) == 0 {
		id, err := InitRoot(p)
		if err != nil {
			return nil, err
		}
		return []childRef{{maxKey: 0, page: id}}, nil
	}

	ids := make([]storage.PageID, len(groups))
	for i := range groups {
		id, err := p.AllocatePage()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	refs := make([]childRef, len(groups))
	for i, cells := range groups {
		next := storage.InvalidPageID
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		buf, err := encodeLeaf(&leafNode{nextLeaf: next, cells: cells}, pageSize)
		if err != nil {
			return nil, err
		}
		if err := p.WritePage(ids[i], buf); err != nil {
			return nil, err
		}
		refs[i] = childRef{maxKey: cells[len(cells)-1].key, page: ids[i]}
	}
	return refs, nil
}

// packInternalLevel groups children into Internal pages, each holding up
// to maxInternalEntries separators plus one rightChild, and returns the
// next level's child references.
func packInternalLevel(p *pager.Pager, children []childRef, pageSize int) ([]childRef, error) {
	maxPerParent := maxInternalEntries(pageSize) + 1
	var groups [][]childRef
	for start := 0; start < len(children); start += maxPerParent {
		end := start + maxPerParent
		if end > len(children) {
			end = len(children)
		}
		groups = append(groups, children[start:end])
	}

	out := make([]childRef, len(groups))
	for i, group := range groups {
		entries := make([]internalEntry, 0, len(group)-1)
		for j := 0; j < len(group)-1; j++ {
			entries = append(entries, internalEntry{separatorKey: group[j].maxKey, childPage: group[j].page})
		}
		rightChild := group[len(group)-1].page
		id, err := p.AllocatePage()
		if err != nil {
			return nil, err
		}
		buf, err := encodeInternal(&internalNode{rightChild: rightChild, entries: entries}, pageSize)
		if err != nil {
			return nil, err
		}
		if err := p.WritePage(id, buf); err != nil {
			return nil, err
		}
		out[i] = childRef{maxKey: group[len(group)-1].maxKey, page: id}
	}
	return out, nil
}
