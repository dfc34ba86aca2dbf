package btree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/storage/pager"
	"github.com/sphildreth/decentdb/internal/vfs"
)

func openTestTree(t *testing.T, cachePages int) *BTree {
	t.Helper()
	p, err := pager.Open(vfs.NewMem(), "db", pager.Config{CachePages: cachePages})
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	root, err := InitRoot(p)
	if err != nil {
		t.Fatalf("InitRoot: %v", err)
	}
	return New(p, root)
}

func TestInsertFindRoundTrip(t *testing.T) {
	tr := openTestTree(t, 64)
	if err := tr.Insert(42, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := tr.Find(42)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !bytes.Equal(v, []byte("hello")) {
		t.Fatalf("Find(42) = %q, %v, want hello, true", v, ok)
	}
	if _, ok, err := tr.Find(99); err != nil || ok {
		t.Fatalf("Find(99) should miss, got ok=%v err=%v", ok, err)
	}
}

func TestInsertCausesLeafSplit(t *testing.T) {
	tr := openTestTree(t, 256)
	const n = 200
	for i := 0; i < n; i++ {
		v := bytes.Repeat([]byte{byte(i)}, 40)
		if err := tr.Insert(uint64(i), v); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		v, ok, err := tr.Find(uint64(i))
		if err != nil || !ok {
			t.Fatalf("Find(%d) missing after split growth: ok=%v err=%v", i, ok, err)
		}
		want := bytes.Repeat([]byte{byte(i)}, 40)
		if !bytes.Equal(v, want) {
			t.Fatalf("Find(%d) = %x, want %x", i, v, want)
		}
	}
}

func TestInsertCausesInternalSplitAndRootGrowth(t *testing.T) {
	tr := openTestTree(t, 1024)
	originalRoot := tr.Root()
	// Root internal pages hold at most (4096-8)/12 = 340 children; with
	// half-full leaves of ~85 small cells each, 40000 keys need ~470 leaves,
	// so the root internal node itself must split.
	const n = 40000
	for i := 0; i < n; i++ {
		if err := tr.Insert(uint64(i), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if tr.Root() == originalRoot {
		t.Fatalf("expected root to change after enough inserts to split the tree's height")
	}
	for _, k := range []uint64{0, 1, 2500, n - 1} {
		v, ok, err := tr.Find(k)
		if err != nil || !ok {
			t.Fatalf("Find(%d) missing: ok=%v err=%v", k, ok, err)
		}
		if string(v) != fmt.Sprintf("v%d", k) {
			t.Fatalf("Find(%d) = %q, want v%d", k, v, k)
		}
	}
}

func TestInsertReplacesExistingKey(t *testing.T) {
	tr := openTestTree(t, 64)
	if err := tr.Insert(7, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(7, []byte("second")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := tr.Find(7)
	if err != nil || !ok {
		t.Fatalf("Find(7): ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, []byte("second")) {
		t.Fatalf("Find(7) = %q, want second (replace, not duplicate)", v)
	}
}

func TestDeleteRoundTripLaw(t *testing.T) {
	tr := openTestTree(t, 256)
	keys := []uint64{1, 2, 3, 4, 5, 100, 200}
	for _, k := range keys {
		if err := tr.Insert(k, []byte(fmt.Sprintf("v%d", k))); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := tr.Delete(3)
	if err != nil || !removed {
		t.Fatalf("Delete(3): removed=%v err=%v", removed, err)
	}
	if _, ok, err := tr.Find(3); err != nil || ok {
		t.Fatalf("Find(3) after delete should miss: ok=%v err=%v", ok, err)
	}
	for _, k := range keys {
		if k == 3 {
			continue
		}
		v, ok, err := tr.Find(k)
		if err != nil || !ok {
			t.Fatalf("Find(%d) should survive unrelated delete: ok=%v err=%v", k, ok, err)
		}
		if string(v) != fmt.Sprintf("v%d", k) {
			t.Fatalf("Find(%d) = %q, want v%d", k, v, k)
		}
	}
	if removed, err := tr.Delete(3); err != nil || removed {
		t.Fatalf("second Delete(3) should be a no-op: removed=%v err=%v", removed, err)
	}
}

func TestDeleteKeyValueOnlyMatchesExactValue(t *testing.T) {
	tr := openTestTree(t, 64)
	if err := tr.Insert(9, []byte("expected")); err != nil {
		t.Fatal(err)
	}
	removed, err := tr.DeleteKeyValue(9, []byte("wrong"))
	if err != nil || removed {
		t.Fatalf("DeleteKeyValue with mismatched value should not remove: removed=%v err=%v", removed, err)
	}
	removed, err = tr.DeleteKeyValue(9, []byte("expected"))
	if err != nil || !removed {
		t.Fatalf("DeleteKeyValue with matching value should remove: removed=%v err=%v", removed, err)
	}
}

func TestUpdateExistingKey(t *testing.T) {
	tr := openTestTree(t, 64)
	if err := tr.Insert(11, []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Update(11, []byte("new")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := tr.Find(11)
	if err != nil || !ok {
		t.Fatalf("Find(11): ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, []byte("new")) {
		t.Fatalf("Find(11) = %q, want new", v)
	}
}

func TestUpdateMissingKeyFails(t *testing.T) {
	tr := openTestTree(t, 64)
	err := tr.Update(123, []byte("x"))
	if err == nil {
		t.Fatal("Update on missing key should fail")
	}
	if !dberrors.Is(err, dberrors.Internal) {
		t.Fatalf("Update on missing key should be dberrors.Internal, got %v", err)
	}
}

func TestCursorFullScanAscending(t *testing.T) {
	tr := openTestTree(t, 256)
	keys := []uint64{50, 10, 30, 20, 40, 5, 90, 15}
	for _, k := range keys {
		if err := tr.Insert(k, []byte(fmt.Sprintf("v%d", k))); err != nil {
			t.Fatal(err)
		}
	}
	c, err := tr.OpenCursor()
	if err != nil {
		t.Fatal(err)
	}
	var seen []uint64
	for {
		k, v, ok, err := c.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if string(v) != fmt.Sprintf("v%d", k) {
			t.Fatalf("cursor value for key %d = %q, want v%d", k, v, k)
		}
		seen = append(seen, k)
	}
	want := []uint64{5, 10, 15, 20, 30, 40, 50, 90}
	if len(seen) != len(want) {
		t.Fatalf("cursor produced %d keys, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("cursor order[%d] = %d, want %d (full: %v)", i, seen[i], want[i], seen)
		}
	}
}

func TestOpenCursorAtPositionsMidRange(t *testing.T) {
	tr := openTestTree(t, 256)
	for i := 0; i < 100; i += 2 {
		if err := tr.Insert(uint64(i), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	c, err := tr.OpenCursorAt(41)
	if err != nil {
		t.Fatal(err)
	}
	k, _, ok, err := c.Next()
	if err != nil || !ok {
		t.Fatalf("Next after OpenCursorAt(41): ok=%v err=%v", ok, err)
	}
	if k != 42 {
		t.Fatalf("OpenCursorAt(41) landed on %d, want first key >= 41 which is 42", k)
	}

	c2, err := tr.OpenCursorAt(50)
	if err != nil {
		t.Fatal(err)
	}
	k2, _, ok, err := c2.Next()
	if err != nil || !ok {
		t.Fatalf("Next after OpenCursorAt(50): ok=%v err=%v", ok, err)
	}
	if k2 != 50 {
		t.Fatalf("OpenCursorAt(50) should land exactly on 50, got %d", k2)
	}
}

func TestBulkBuildFromSortedMatchesCursorScan(t *testing.T) {
	p, err := pager.Open(vfs.NewMem(), "db", pager.Config{CachePages: 256})
	if err != nil {
		t.Fatal(err)
	}
	entries := make([]SortedEntry, 0, 2000)
	for i := 0; i < 1000; i++ {
		entries = append(entries, SortedEntry{Key: uint64(i), Value: []byte(fmt.Sprintf("v%d", i))})
	}
	// Duplicate keys: last-wins per key 500.
	entries = append(entries[:501], append([]SortedEntry{{Key: 500, Value: []byte("v500-dup")}}, entries[501:]...)...)

	root, err := BulkBuildFromSorted(p, entries)
	if err != nil {
		t.Fatal(err)
	}
	tr := New(p, root)
	c, err := tr.OpenCursor()
	if err != nil {
		t.Fatal(err)
	}
	var gotKeys []uint64
	for {
		k, v, ok, err := c.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		gotKeys = append(gotKeys, k)
		if k == 500 {
			if string(v) != "v500-dup" {
				t.Fatalf("key 500 should be last-wins value v500-dup, got %q", v)
			}
		}
	}
	if len(gotKeys) != 1000 {
		t.Fatalf("bulk-loaded tree has %d keys, want 1000 (dedup should collapse the duplicate)", len(gotKeys))
	}
	for i, k := range gotKeys {
		if k != uint64(i) {
			t.Fatalf("bulk-loaded scan out of order at index %d: got %d, want %d", i, k, i)
		}
	}
}

func TestBulkBuildFromEmptyInput(t *testing.T) {
	p, err := pager.Open(vfs.NewMem(), "db", pager.Config{CachePages: 16})
	if err != nil {
		t.Fatal(err)
	}
	root, err := BulkBuildFromSorted(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr := New(p, root)
	c, err := tr.OpenCursor()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, ok, err := c.Next(); err != nil || ok {
		t.Fatalf("empty bulk-built tree should have no entries: ok=%v err=%v", ok, err)
	}
}

func TestOverflowValueRoundTripThroughLeafCell(t *testing.T) {
	tr := openTestTree(t, 64)
	big := bytes.Repeat([]byte{0x5A}, tr.pageSize*3+17)
	if err := tr.Insert(1, big); err != nil {
		t.Fatal(err)
	}
	v, ok, err := tr.Find(1)
	if err != nil || !ok {
		t.Fatalf("Find(1): ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, big) {
		t.Fatalf("overflow value round trip mismatch: got %d bytes, want %d", len(v), len(big))
	}
}

func TestCorruptLeafSentinelCountRejected(t *testing.T) {
	tr := openTestTree(t, 64)
	buf := storage.NewZeroPage(tr.pageSize, storage.PageTypeLeaf)
	buf[nodeCountOff] = 0xFF
	buf[nodeCountOff+1] = 0xFF
	_, err := decodeLeaf(buf)
	if err == nil {
		t.Fatal("decodeLeaf should reject the 0xFFFF sentinel count")
	}
	if !dberrors.Is(err, dberrors.Corruption) {
		t.Fatalf("expected dberrors.Corruption, got %v", err)
	}
}

func TestCorruptInternalEntryPastBoundsRejected(t *testing.T) {
	tr := openTestTree(t, 64)
	buf := storage.NewZeroPage(tr.pageSize, storage.PageTypeInternal)
	// Declare one entry but leave the page otherwise empty beyond the
	// header, so the entry bytes would read past a truncated buffer.
	buf[nodeCountOff] = 1
	truncated := buf[:nodeHeaderSize+4]
	_, err := decodeInternal(truncated)
	if err == nil {
		t.Fatal("decodeInternal should reject an entry reading past page bounds")
	}
	if !dberrors.Is(err, dberrors.Corruption) {
		t.Fatalf("expected dberrors.Corruption, got %v", err)
	}
}

func TestUtilizationMetrics(t *testing.T) {
	tr := openTestTree(t, 256)
	for i := 0; i < 10; i++ {
		if err := tr.Insert(uint64(i), []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	util, err := tr.CalculateTreeUtilization()
	if err != nil {
		t.Fatal(err)
	}
	if util <= 0 || util > 100 {
		t.Fatalf("tree utilization out of range: %f", util)
	}
	needs, err := tr.NeedsCompaction(0)
	if err != nil {
		t.Fatal(err)
	}
	if needs != (util < 50) {
		t.Fatalf("NeedsCompaction(default) = %v inconsistent with utilization %f", needs, util)
	}
	if ok, err := tr.NeedsCompaction(100); err != nil || !ok {
		t.Fatalf("NeedsCompaction(100) should always report true for a sparse tree: ok=%v err=%v", ok, err)
	}
}
