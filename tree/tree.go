// Package tree implements read access to a closed, immutable tree file
// produced by package writer: magic/trailer validation, point lookups
// through the bloom filter and B-tree, and full in-order iteration
// (spec §4.4).
package tree

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/stairsdb/hanoidb/block"
	"github.com/stairsdb/hanoidb/bloomtrailer"
	"github.com/stairsdb/hanoidb/entry"
	"github.com/stairsdb/hanoidb/writer"
)

// ErrInvalidTreeFormat is returned by Open when the file's magic prefix
// does not match writer.Magic; it carries the offending bytes so callers
// can tell an older-format file from a foreign one. A file too short to
// hold the magic fails with a read error instead.
type ErrInvalidTreeFormat struct {
	Got []byte
}

func (e *ErrInvalidTreeFormat) Error() string {
	return fmt.Sprintf("tree: invalid magic %q, expected %q", e.Got, writer.Magic)
}

// ErrKeyNotFound is returned by GetEntry when no live entry matches.
var ErrKeyNotFound = errors.New("tree: key not found")

// Tree is a read handle on one closed tree file.
type Tree struct {
	path    string
	file    *os.File
	size    int64
	trailer *bloomtrailer.Trailer
}

// Open validates the magic prefix and trailer of path and returns a
// ready-to-query handle.
func Open(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tree: opening %s: %w", path, err)
	}

	magic := make([]byte, len(writer.Magic))
	if _, err := f.ReadAt(magic, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("tree: reading magic: %w", err)
	}
	if string(magic) != writer.Magic {
		f.Close()
		return nil, &ErrInvalidTreeFormat{Got: magic}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tree: stat %s: %w", path, err)
	}

	trailer, err := bloomtrailer.ReadFrom(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tree: reading trailer of %s: %w", path, err)
	}

	return &Tree{path: path, file: f, size: info.Size(), trailer: trailer}, nil
}

// Path returns the file this handle was opened from.
func (t *Tree) Path() string {
	return t.path
}

// Close releases the underlying file handle.
func (t *Tree) Close() error {
	return t.file.Close()
}

// Clone duplicates this handle onto an independent *os.File so a caller
// (e.g. a concurrent iterator) can hold its own read position without
// racing the original handle's.
func (t *Tree) Clone() (*Tree, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("tree: cloning %s: %w", t.path, err)
	}
	return &Tree{path: t.path, file: f, size: t.size, trailer: t.trailer}, nil
}

// rootBlock reads the block the trailer's root_pos points at.
func (t *Tree) rootBlock() (*block.Block, error) {
	return block.ReadAt(t.file, int64(t.trailer.RootPos))
}

// blockFromPointer follows a PosLen entry to its target block, verifying
// the pointer's recorded frame length against the block actually found
// there.
func (t *Tree) blockFromPointer(e entry.Entry) (*block.Block, error) {
	if !e.IsPosLen() {
		return nil, entry.ErrPosLenRequired
	}
	return block.ExpectAtLen(t.file, int64(e.BlockPos), e.BlockLen)
}

// GetEntry looks up key, consulting the bloom filter before touching
// disk. It returns ErrKeyNotFound both when the key is absent and when
// it resolves to a tombstone, matching the caller-visible "no value"
// outcome; callers that must distinguish a tombstone from an absence
// should use Lookup instead.
func (t *Tree) GetEntry(key []byte) (*entry.Entry, error) {
	if !t.MightContain(key) {
		return nil, ErrKeyNotFound
	}
	e, err := t.Lookup(key)
	if err != nil {
		return nil, err
	}
	if e == nil || e.IsDeleted() {
		return nil, ErrKeyNotFound
	}
	return e, nil
}

// MightContain reports whether key could be present in this file,
// per its bloom filter trailer. A false is definitive (spec §4.3: no
// false negatives); a true still requires a real descent to confirm.
func (t *Tree) MightContain(key []byte) bool {
	return t.trailer.Contains(key)
}

// Lookup descends the tree for key and returns the entry found there
// (KeyVal or Deleted), or nil if no entry for key exists at all. Unlike
// GetEntry it does not collapse a tombstone into "not found".
func (t *Tree) Lookup(key []byte) (*entry.Entry, error) {
	b, err := t.rootBlock()
	if err != nil {
		return nil, fmt.Errorf("tree: reading root block: %w", err)
	}

	for !b.IsLeaf() {
		ptr := lastPointerLessOrEqual(b.Entries(), key)
		if ptr == nil {
			return nil, nil
		}
		b, err = t.blockFromPointer(*ptr)
		if err != nil {
			return nil, fmt.Errorf("tree: following pointer: %w", err)
		}
	}

	for _, e := range b.Entries() {
		cmp := bytes.Compare(e.Key, key)
		if cmp == 0 {
			out := e
			return &out, nil
		}
		if cmp > 0 {
			break
		}
	}
	return nil, nil
}

// lastPointerLessOrEqual implements the descent rule of spec §4.4: among
// an inner block's PosLen entries, follow the last one whose key is ≤
// the search key.
func lastPointerLessOrEqual(entries []entry.Entry, key []byte) *entry.Entry {
	var best *entry.Entry
	for i := range entries {
		if bytes.Compare(entries[i].Key, key) <= 0 {
			best = &entries[i]
		} else {
			break
		}
	}
	return best
}

// Entries returns every leaf entry in the file in ascending key order,
// via a depth-first descent from the root.
func (t *Tree) Entries() ([]entry.Entry, error) {
	root, err := t.rootBlock()
	if err != nil {
		return nil, fmt.Errorf("tree: reading root block: %w", err)
	}
	var out []entry.Entry
	if err := t.collect(root, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tree) collect(b *block.Block, out *[]entry.Entry) error {
	if b.IsLeaf() {
		*out = append(*out, b.Entries()...)
		return nil
	}
	for _, ptr := range b.Entries() {
		child, err := t.blockFromPointer(ptr)
		if err != nil {
			return fmt.Errorf("tree: following pointer: %w", err)
		}
		if err := t.collect(child, out); err != nil {
			return err
		}
	}
	return nil
}
