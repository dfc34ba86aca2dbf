package vfs

import "testing"

func TestMemVFSReadWriteRoundTrip(t *testing.T) {
	m := NewMem()
	f, err := m.Open("db")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("hello"), 10); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 10); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}
	size, err := f.Size()
	if err != nil || size != 15 {
		t.Fatalf("size = %d, %v", size, err)
	}
}

func TestMemVFSSharesBackingStoreAcrossOpens(t *testing.T) {
	m := NewMem()
	a, _ := m.Open("db")
	a.WriteAt([]byte("x"), 0)
	b, _ := m.Open("db")
	buf := make([]byte, 1)
	if _, err := b.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 'x' {
		t.Fatalf("second handle did not see first handle's write")
	}
}

func TestMemVFSExistsAndRemove(t *testing.T) {
	m := NewMem()
	if m.Exists("db") {
		t.Fatal("should not exist yet")
	}
	m.Open("db")
	if !m.Exists("db") {
		t.Fatal("should exist after Open")
	}
	if err := m.Remove("db"); err != nil {
		t.Fatal(err)
	}
	if m.Exists("db") {
		t.Fatal("should not exist after Remove")
	}
}
