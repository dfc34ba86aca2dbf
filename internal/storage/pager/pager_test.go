package pager

import (
	"bytes"
	"testing"

	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/storage/wal"
	"github.com/sphildreth/decentdb/internal/vfs"
)

func openTestPager(t *testing.T, cachePages int) *Pager {
	t.Helper()
	p, err := Open(vfs.NewMem(), "db", Config{CachePages: cachePages})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

func TestAllocateWriteReadRoundTrip(t *testing.T) {
	p := openTestPager(t, 16)
	id, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	want := bytes.Repeat([]byte{0xAB}, p.PageSize())
	want[0] = byte(storage.PageTypeLeaf)
	if err := p.WritePage(id, want); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got, err := p.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch")
	}
}

func TestFreePageIsReusedByAllocate(t *testing.T) {
	p := openTestPager(t, 16)
	id, err := p.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.FreePage(id); err != nil {
		t.Fatal(err)
	}
	next, err := p.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	if next != id {
		t.Fatalf("expected freed page %d to be reused, got %d", id, next)
	}
	if p.FreelistCount() != 0 {
		t.Fatalf("freelist count = %d, want 0", p.FreelistCount())
	}
}

func TestRollbackTxnPagesDiscardsDirtyCache(t *testing.T) {
	p := openTestPager(t, 16)
	id, err := p.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	original := bytes.Repeat([]byte{0x01}, p.PageSize())
	if err := p.WritePage(id, original); err != nil {
		t.Fatal(err)
	}
	if err := p.FlushAll(); err != nil {
		t.Fatal(err)
	}

	p.BeginTxnPageTracking()
	mutated := bytes.Repeat([]byte{0x02}, p.PageSize())
	if err := p.WritePage(id, mutated); err != nil {
		t.Fatal(err)
	}
	p.RollbackTxnPages()

	got, err := p.ReadPage(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("rollback did not revert to pre-transaction on-disk image")
	}
}

func TestFlushAllIsNoopDuringTransaction(t *testing.T) {
	p := openTestPager(t, 16)
	id, err := p.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	p.BeginTxnPageTracking()
	if err := p.WritePage(id, bytes.Repeat([]byte{0x9}, p.PageSize())); err != nil {
		t.Fatal(err)
	}
	if err := p.FlushAll(); err != nil {
		t.Fatal(err)
	}
	onDisk, err := p.ReadPageDirect(id)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range onDisk {
		if b != 0 {
			t.Fatalf("dirty page reached main file while inTransaction was true")
		}
	}
}

func TestOverflowChainRoundTrip(t *testing.T) {
	p := openTestPager(t, 16)
	data := bytes.Repeat([]byte{0x42}, p.PageSize()*3+17)
	start, err := p.WriteOverflowChain(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.ReadOverflowChainAll(start)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("overflow chain round trip mismatch: got %d bytes, want %d", len(got), len(data))
	}
	got2, err := p.ReadOverflowChain(start, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got2, data) {
		t.Fatalf("ReadOverflowChain with explicit length mismatch")
	}
}

func TestEmptyOverflowChainIsInvalidPage(t *testing.T) {
	p := openTestPager(t, 16)
	start, err := p.WriteOverflowChain(nil)
	if err != nil {
		t.Fatal(err)
	}
	if start != storage.InvalidPageID {
		t.Fatalf("empty overflow write should return InvalidPageID, got %d", start)
	}
}

// TestFreelistSurvivesFlushAndReload exercises the ordinary allocate/free/
// close path with no explicit FlushFreelist call: ClosePager alone must be
// enough for freed pages to survive a reopen.
func TestFreelistSurvivesFlushAndReload(t *testing.T) {
	v := vfs.NewMem()
	p, err := Open(v, "db", Config{CachePages: 16})
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]storage.PageID, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := p.AllocatePage()
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := p.FreePage(id); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.ClosePager(); err != nil {
		t.Fatal(err)
	}

	p2, err := Open(v, "db", Config{CachePages: 16})
	if err != nil {
		t.Fatal(err)
	}
	if p2.FreelistCount() != len(ids) {
		t.Fatalf("FreelistCount after reload = %d, want %d", p2.FreelistCount(), len(ids))
	}
}

// TestFreelistSurvivesCheckpointAndReload frees pages mid-lifetime, runs a
// checkpoint (no explicit FlushFreelist), closes, and reopens — the
// checkpoint path must durably persist the freelist the same way Close does.
func TestFreelistSurvivesCheckpointAndReload(t *testing.T) {
	v := vfs.NewMem()
	p, err := Open(v, "db", Config{CachePages: 16})
	if err != nil {
		t.Fatal(err)
	}
	w, err := wal.New(v, "db-wal", uint32(p.PageSize()))
	if err != nil {
		t.Fatal(err)
	}

	ids := make([]storage.PageID, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := p.AllocatePage()
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	wr, err := w.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if err := wr.WritePage(id, bytes.Repeat([]byte{0x1}, p.PageSize())); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := w.Commit(wr); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if err := p.FreePage(id); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := w.Checkpoint(p); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.ClosePager(); err != nil {
		t.Fatal(err)
	}

	p2, err := Open(v, "db", Config{CachePages: 16})
	if err != nil {
		t.Fatal(err)
	}
	if p2.FreelistCount() != len(ids) {
		t.Fatalf("FreelistCount after checkpoint+reload = %d, want %d", p2.FreelistCount(), len(ids))
	}
}

func TestCacheEvictionUnderPressureKeepsPinnedPages(t *testing.T) {
	p := openTestPager(t, 4)
	id, err := p.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	want := bytes.Repeat([]byte{0x7}, p.PageSize())
	want[0] = byte(storage.PageTypeLeaf)
	pinned, err := p.PinPage(id)
	if err != nil {
		t.Fatal(err)
	}
	copy(pinned.Buf, want)

	for i := 0; i < 20; i++ {
		churnID, err := p.AllocatePage()
		if err != nil {
			t.Fatal(err)
		}
		h, err := p.PinPage(churnID)
		if err != nil {
			t.Fatal(err)
		}
		p.UnpinPage(h, false)
	}

	got, err := p.ReadPage(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("pinned page content was disturbed by unrelated cache churn")
	}
}

func TestCacheStatsCountsHitsAndEvictions(t *testing.T) {
	p := openTestPager(t, 16)
	id, err := p.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	buf := bytes.Repeat([]byte{0x3}, p.PageSize())
	buf[0] = byte(storage.PageTypeLeaf)
	if err := p.WritePage(id, buf); err != nil {
		t.Fatal(err)
	}
	before := p.CacheStats()

	// AllocatePage+WritePage already inserted id into the cache, so this
	// read is a hit.
	if _, err := p.ReadPage(id); err != nil {
		t.Fatal(err)
	}
	afterHit := p.CacheStats()
	if afterHit.Hits != before.Hits+1 {
		t.Fatalf("Hits = %d, want %d", afterHit.Hits, before.Hits+1)
	}

	if err := p.FlushAll(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		churnID, err := p.AllocatePage()
		if err != nil {
			t.Fatal(err)
		}
		h, err := p.PinPage(churnID)
		if err != nil {
			t.Fatal(err)
		}
		p.UnpinPage(h, false)
	}

	afterChurn := p.CacheStats()
	if afterChurn.Evictions == 0 {
		t.Fatalf("expected cache churn with a 16-page cache to evict at least one frame")
	}
}
