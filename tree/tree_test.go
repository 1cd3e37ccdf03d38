package tree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stairsdb/hanoidb/compression"
	"github.com/stairsdb/hanoidb/entry"
	"github.com/stairsdb/hanoidb/writer"
)

func buildTree(t *testing.T, keys []string) *Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.data")
	w, err := writer.New(path, len(keys), compression.None)
	if err != nil {
		t.Fatal(err)
	}
	for i, k := range keys {
		if err := w.Add(entry.KeyVal([]byte(k), []byte(fmt.Sprintf("v%d", i)), nil)); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	tr, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.data")
	if err := os.WriteFile(path, []byte("NOPE0000000000"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	var target *ErrInvalidTreeFormat
	if !errors.As(err, &target) {
		t.Fatalf("expected *ErrInvalidTreeFormat, got %v (%T)", err, err)
	}
}

func TestEntriesReturnsAscendingOrder(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	tr := buildTree(t, keys)

	got, err := tr.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(keys) {
		t.Fatalf("got %d entries, want %d", len(got), len(keys))
	}
	for i, k := range keys {
		if string(got[i].Key) != k {
			t.Fatalf("entry %d: got %q, want %q", i, got[i].Key, k)
		}
	}
}

func TestLookupFindsExactKey(t *testing.T) {
	tr := buildTree(t, []string{"alpha", "bravo", "charlie"})

	e, err := tr.Lookup([]byte("bravo"))
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || string(e.Value) != "v1" {
		t.Fatalf("Lookup(bravo) = %+v", e)
	}
}

func TestLookupMissingKeyReturnsNil(t *testing.T) {
	tr := buildTree(t, []string{"alpha", "bravo"})

	e, err := tr.Lookup([]byte("zzz"))
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Fatalf("Lookup(zzz) = %+v, want nil", e)
	}
}

func TestGetEntryHonorsBloomFilterShortCircuit(t *testing.T) {
	tr := buildTree(t, []string{"a", "b"})

	_, err := tr.GetEntry([]byte("definitely-absent-key"))
	if err != ErrKeyNotFound {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
}

func TestBulkLookupAllKeysPresent(t *testing.T) {
	const n = 2048
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%05d", i)
	}
	tr := buildTree(t, keys)

	for i, k := range keys {
		e, err := tr.Lookup([]byte(k))
		if err != nil {
			t.Fatalf("Lookup(%q): %v", k, err)
		}
		if e == nil || string(e.Value) != fmt.Sprintf("v%d", i) {
			t.Fatalf("Lookup(%q) = %+v, want v%d", k, e, i)
		}
	}
}

func TestCloneIsIndependentHandle(t *testing.T) {
	tr := buildTree(t, []string{"a", "b", "c"})

	clone, err := tr.Clone()
	if err != nil {
		t.Fatal(err)
	}
	defer clone.Close()

	e1, err := tr.Lookup([]byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := clone.Lookup([]byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if string(e1.Value) != string(e2.Value) {
		t.Fatalf("clone diverged: %q vs %q", e1.Value, e2.Value)
	}
}
