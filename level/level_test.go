package level

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stairsdb/hanoidb/command"
	"github.com/stairsdb/hanoidb/compression"
	"github.com/stairsdb/hanoidb/entry"
	"github.com/stairsdb/hanoidb/writer"
)

func writeFile(t *testing.T, path string, keys []string) {
	t.Helper()
	w, err := writer.New(path, len(keys), compression.None)
	if err != nil {
		t.Fatal(err)
	}
	for i, k := range keys {
		if err := w.Add(entry.KeyVal([]byte(k), []byte(fmt.Sprintf("v%d", i)), nil)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPromoteFileFillsSlotsInOrder(t *testing.T) {
	dir := t.TempDir()
	lvl, err := New(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer lvl.Close()

	for i, name := range []string{"first", "second", "third"} {
		path := filepath.Join(dir, fmt.Sprintf("incoming-%d.data", i))
		writeFile(t, path, []string{name})
		if err := lvl.PromoteFile(path); err != nil {
			t.Fatalf("PromoteFile(%s): %v", name, err)
		}
	}

	path := filepath.Join(dir, "overflow.data")
	writeFile(t, path, []string{"x"})
	if err := lvl.PromoteFile(path); err != ErrLevelFull {
		t.Fatalf("got %v, want ErrLevelFull", err)
	}
}

func TestGetEntryPrefersNewestFile(t *testing.T) {
	dir := t.TempDir()
	lvl, err := New(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer lvl.Close()

	aPath := filepath.Join(dir, "a-incoming.data")
	writeFile(t, aPath, []string{"k"})
	if err := lvl.PromoteFile(aPath); err != nil {
		t.Fatal(err)
	}

	bPath := filepath.Join(dir, "b-incoming.data")
	w, err := writer.New(bPath, 1, compression.None)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Add(entry.KeyVal([]byte("k"), []byte("newer"), nil)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := lvl.PromoteFile(bPath); err != nil {
		t.Fatal(err)
	}

	e, err := lvl.GetEntry([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || string(e.Value) != "newer" {
		t.Fatalf("got %+v, want value newer", e)
	}
}

func TestMergeWithoutMergerForwardsToNextLevel(t *testing.T) {
	dir := t.TempDir()
	lvl, err := New(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer lvl.Close()

	cmds, completed, err := lvl.Merge(7, 100, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if completed {
		t.Fatal("expected no merger to mean no completion")
	}
	if len(cmds) != 1 || cmds[0].Kind != command.MergeKind || cmds[0].Level != 5 || cmds[0].Steps != 7 {
		t.Fatalf("got %+v, want a single Merge{steps:7, level:5}", cmds)
	}
}

func TestMergeCompletesAndRotatesFiles(t *testing.T) {
	dir := t.TempDir()
	const lvlNum = 1 // capacity 2^1 = 2
	lvl, err := New(dir, lvlNum)
	if err != nil {
		t.Fatal(err)
	}
	defer lvl.Close()

	aIncoming := filepath.Join(dir, "a-incoming.data")
	writeFile(t, aIncoming, []string{"a"})
	if err := lvl.PromoteFile(aIncoming); err != nil {
		t.Fatal(err)
	}
	bIncoming := filepath.Join(dir, "b-incoming.data")
	writeFile(t, bIncoming, []string{"b"})
	if err := lvl.PromoteFile(bIncoming); err != nil {
		t.Fatal(err)
	}

	if lvl.m == nil {
		t.Fatal("expected a merger to be started once A and B are both present")
	}

	cmds, completed, err := lvl.Merge(0, 100, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !completed {
		t.Fatal("expected the merge to report completion")
	}
	if lvl.m != nil {
		t.Fatal("expected the merge to have completed")
	}

	var sawForward bool
	for _, c := range cmds {
		if c.Kind == command.MergeKind && c.Level == lvlNum+1 {
			sawForward = true
		}
	}
	if !sawForward {
		t.Fatalf("expected propagation to level %d, got %+v", lvlNum+1, cmds)
	}

	e, err := lvl.GetEntry([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("expected merged file to still contain key a")
	}
}
