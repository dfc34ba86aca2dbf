package btree

import "github.com/sphildreth/decentdb/internal/storage"

// CalculatePageUtilization reports the fraction (0-100) of a single page's
// capacity occupied by live cells/entries (§4.4).
func CalculatePageUtilization(buf []byte, pageSize int) (float64, error) {
	switch pageTypeAt(buf) {
	case storage.PageTypeLeaf:
		n, err := decodeLeaf(buf)
		if err != nil {
			return 0, err
		}
		used := nodeHeaderSize
		for _, c := range n.cells {
			used += c.encodedSize()
		}
		return 100 * float64(used) / float64(pageSize), nil
	case storage.PageTypeInternal:
		n, err := decodeInternal(buf)
		if err != nil {
			return 0, err
		}
		used := nodeHeaderSize + len(n.entries)*internalEntrySize
		return 100 * float64(used) / float64(pageSize), nil
	default:
		return 0, nil
	}
}

// CalculateTreeUtilization walks every page reachable from root and
// reports the mean per-page utilization.
func (t *BTree) CalculateTreeUtilization() (float64, error) {
	var total float64
	var count int
	var walk func(id storage.PageID) error
	walk = func(id storage.PageID) error {
		buf, err := t.p.ReadPage(id)
		if err != nil {
			return err
		}
		util, err := CalculatePageUtilization(buf, t.pageSize)
		if err != nil {
			return err
		}
		total += util
		count++
		if pageTypeAt(buf) == storage.PageTypeInternal {
			n, err := decodeInternal(buf)
			if err != nil {
				return err
			}
			for _, e := range n.entries {
				if err := walk(e.childPage); err != nil {
					return err
				}
			}
			return walk(n.rightChild)
		}
		return nil
	}
	if err := walk(t.root); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

// NeedsCompaction reports whether the tree's average utilization has
// fallen below thresholdPercent (default 50 when <= 0).
func (t *BTree) NeedsCompaction(thresholdPercent float64) (bool, error) {
	if thresholdPercent <= 0 {
		thresholdPercent = 50
	}
	util, err := t.CalculateTreeUtilization()
	if err != nil {
		return false, err
	}
	return util < thresholdPercent, nil
}
