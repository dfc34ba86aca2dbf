package decentdb

import (
	"fmt"

	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/storage/btree"
)

// GCResult summarizes one garbage-collection pass.
type GCResult struct {
	TotalPages     int
	ReachablePages int
	FreeBefore     int
	FreeAfter      int
	Reclaimed      int
	Errors         []string
}

// GC performs a reachability scan from roots (typically the catalog root
// plus every table's B+Tree root) over B+Tree and overflow pages, marking
// any allocated page not visited and not already on the freelist as an
// orphan, then pushing it onto the freelist. This lives in decentdb
// rather than the pager package specifically to avoid the pager needing
// to import btree just to walk tree shape — btree.WalkPages already knows
// how to tell a child-page reference apart from a leaf cell's inline
// bytes, decentdb just drives it across every root.
//
// GC recovers pages lost to crash-interrupted multi-page operations (a
// B+Tree split that wrote its new right page but crashed before the
// parent update committed, an overflow chain orphaned by a key update
// that didn't complete) that explicit Free calls alone cannot reach. It
// never contradicts the freelist invariants of §3 — it only discovers
// more candidates for it than the caller remembered to free. Must be
// called with no other writer active.
func (db *DB) GC(roots []storage.PageID) (*GCResult, error) {
	total := int(db.p.HighWaterMark())
	result := &GCResult{
		TotalPages: total,
		FreeBefore: db.p.FreelistCount(),
	}

	reachable := make(map[storage.PageID]struct{}, total)
	reachable[0] = struct{}{}
	visit := func(id storage.PageID) error {
		reachable[id] = struct{}{}
		return nil
	}
	for _, root := range roots {
		if err := btree.WalkPages(db.p, root, visit); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("walk root %d: %v", root, err))
		}
	}
	result.ReachablePages = len(reachable)

	free := make(map[storage.PageID]struct{})
	for _, id := range db.p.FreePageIDs() {
		free[id] = struct{}{}
	}

	var reclaimed int
	for id := storage.PageID(1); id < storage.PageID(total); id++ {
		if _, ok := reachable[id]; ok {
			continue
		}
		if _, ok := free[id]; ok {
			continue
		}
		if err := db.p.FreePage(id); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("free orphan page %d: %v", id, err))
			continue
		}
		reclaimed++
	}
	result.Reclaimed = reclaimed
	result.FreeAfter = db.p.FreelistCount()

	if reclaimed > 0 {
		if err := db.p.FlushFreelist(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("flush freelist: %v", err))
		}
		if db.m != nil {
			db.m.GCReclaimed.Add(float64(reclaimed))
		}
	}
	return result, nil
}
