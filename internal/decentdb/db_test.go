package decentdb

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/vfs"
)

func openTestDB(t *testing.T, v vfs.VFS, path string) *DB {
	t.Helper()
	db, err := OpenDB(v, path, Config{CachePages: 64})
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	return db
}

func TestTransactionCommitIsVisibleToNewReaders(t *testing.T) {
	v := vfs.NewMem()
	db := openTestDB(t, v, "db")

	tr, err := db.NewTree()
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(1, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	pageID := tr.Root()

	txn, err := db.BeginTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.StagePage(pageID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CommitTransaction(txn); err != nil {
		t.Fatal(err)
	}

	r := db.BeginRead()
	defer db.EndRead(r)
	got, err := db.ReadPage(r, pageID)
	if err != nil {
		t.Fatal(err)
	}
	if storage.PageTypeOf(got) != storage.PageTypeLeaf {
		t.Fatalf("committed page should read back as a Leaf page")
	}
}

func TestRollbackTransactionDiscardsStagedPages(t *testing.T) {
	v := vfs.NewMem()
	db := openTestDB(t, v, "db")

	id, err := db.Pager().AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	original := bytes.Repeat([]byte{0x01}, db.Pager().PageSize())
	original[0] = byte(storage.PageTypeLeaf)
	if err := db.Pager().WritePage(id, original); err != nil {
		t.Fatal(err)
	}
	if err := db.Pager().FlushAll(); err != nil {
		t.Fatal(err)
	}

	txn, err := db.BeginTransaction()
	if err != nil {
		t.Fatal(err)
	}
	mutated := bytes.Repeat([]byte{0x02}, db.Pager().PageSize())
	mutated[0] = byte(storage.PageTypeLeaf)
	if err := db.Pager().WritePage(id, mutated); err != nil {
		t.Fatal(err)
	}
	if err := txn.StagePage(id); err != nil {
		t.Fatal(err)
	}
	if err := db.RollbackTransaction(txn); err != nil {
		t.Fatal(err)
	}

	got, err := db.Pager().ReadPage(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("rollback should revert to the pre-transaction image")
	}
}

func TestCheckpointAppliesCommittedPagesToMainFile(t *testing.T) {
	v := vfs.NewMem()
	db := openTestDB(t, v, "db")

	id, err := db.Pager().AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	data := bytes.Repeat([]byte{0x5}, db.Pager().PageSize())
	data[0] = byte(storage.PageTypeLeaf)

	txn, err := db.BeginTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Pager().WritePage(id, data); err != nil {
		t.Fatal(err)
	}
	if err := txn.StagePage(id); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CommitTransaction(txn); err != nil {
		t.Fatal(err)
	}

	if _, err := db.CheckpointDB(); err != nil {
		t.Fatal(err)
	}

	onDisk, err := db.Pager().ReadPageDirect(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Fatalf("checkpoint should have applied the committed page to the main file")
	}
}

func TestGCReclaimsUnreachablePages(t *testing.T) {
	v := vfs.NewMem()
	db := openTestDB(t, v, "db")

	tr, err := db.NewTree()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if err := tr.Insert(uint64(i), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	root := tr.Root()

	// Simulate a crash-orphaned page: allocate and write one without
	// linking it into the tree or freeing it.
	orphan, err := db.Pager().AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	orphanBuf := storage.NewZeroPage(db.Pager().PageSize(), storage.PageTypeOverflow)
	if err := db.Pager().WritePage(orphan, orphanBuf); err != nil {
		t.Fatal(err)
	}

	before := db.Pager().FreelistCount()
	result, err := db.GC([]storage.PageID{root})
	if err != nil {
		t.Fatal(err)
	}
	if result.Reclaimed < 1 {
		t.Fatalf("GC should reclaim the orphaned page, got Reclaimed=%d", result.Reclaimed)
	}
	if db.Pager().FreelistCount() <= before {
		t.Fatalf("freelist should have grown after GC: before=%d after=%d", before, db.Pager().FreelistCount())
	}

	for i := 0; i < 50; i++ {
		v, ok, err := tr.Find(uint64(i))
		if err != nil || !ok {
			t.Fatalf("Find(%d) should survive GC: ok=%v err=%v", i, ok, err)
		}
		if string(v) != fmt.Sprintf("v%d", i) {
			t.Fatalf("Find(%d) = %q after GC, want v%d", i, v, i)
		}
	}
}
