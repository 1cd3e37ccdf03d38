// Package writer implements the streaming, bottom-up B-tree builder
// (spec §4.5): it consumes an ascending sequence of leaf entries and
// produces a complete tree file, closing 8 KiB blocks as it goes and
// bubbling internal-node pointer entries up through as many levels as
// needed.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/stairsdb/hanoidb/block"
	"github.com/stairsdb/hanoidb/bloomtrailer"
	"github.com/stairsdb/hanoidb/compression"
	"github.com/stairsdb/hanoidb/entry"
)

// Magic prefixes every tree file (spec §3, §6).
const Magic = "HAN3"

// BlockSize is the target uncompressed size of one block; a block is
// closed the moment its accumulated encoded size meets or exceeds this.
const BlockSize = 8 * 1024

// ErrOutOfOrderWrite is returned by Add when the key is not strictly
// greater than the previous key in the block currently being accumulated
// at that level; keys in already-flushed blocks are not compared.
var ErrOutOfOrderWrite = errors.New("writer: out-of-order write")

// pendingBlock accumulates entries for one level until it is large
// enough to flush.
type pendingBlock struct {
	level   uint16
	size    int
	members []entry.Entry
}

func (b *pendingBlock) isSoloInnerBlock() bool {
	return b.level > 0 && len(b.members) == 1
}

// Writer builds one tree file in a single forward pass.
type Writer struct {
	name        string
	file        *os.File
	pos         uint64 // current write offset, i.e. offset the next block will start at
	lastNodePos *uint64
	blocks      []*pendingBlock
	trailer     *bloomtrailer.Trailer
	compression compression.Codec
	valueCount  int
	tombstones  int
	closed      bool
}

// firstBlockPos is the offset immediately after the magic prefix.
const firstBlockPos = uint64(len(Magic))

// New creates a tree file at name, sized for expectedItems keys for
// bloom-filter purposes.
func New(name string, expectedItems int, codec compression.Codec) (*Writer, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("writer: creating %s: %w", name, err)
	}
	if _, err := f.Write([]byte(Magic)); err != nil {
		f.Close()
		return nil, fmt.Errorf("writer: writing magic: %w", err)
	}
	return &Writer{
		name:        name,
		file:        f,
		pos:         firstBlockPos,
		trailer:     bloomtrailer.NewForWrite(expectedItems),
		compression: codec,
	}, nil
}

// Count is the number of live KeyVal entries plus tombstones added so far.
func (w *Writer) Count() int {
	return w.valueCount + w.tombstones
}

func (w *Writer) String() string {
	return fmt.Sprintf("Writer{file: %s, count: %d}", w.name, w.Count())
}

// Add appends one leaf entry. Entries must arrive in strictly ascending
// key order within the level-0 block currently being accumulated.
func (w *Writer) Add(e entry.Entry) error {
	if !e.IsPosLen() {
		w.trailer.Add(e.Key)
	}
	return w.appendToLevel(0, e)
}

func (w *Writer) appendToLevel(level uint16, e entry.Entry) error {
	b := w.blockAtLevel(level)

	if len(b.members) > 0 {
		last := b.members[len(b.members)-1]
		if bytes.Compare(last.Key, e.Key) >= 0 {
			return ErrOutOfOrderWrite
		}
	}

	if e.IsDeleted() {
		w.tombstones++
	} else if e.IsKeyVal() {
		w.valueCount++
	}

	b.size += e.EncodedSize()
	b.members = append(b.members, e)

	if b.size >= BlockSize {
		return w.flushTopBlock()
	}
	return nil
}

// blockAtLevel returns the pending block for level, creating placeholder
// blocks for any intervening levels the stack doesn't yet reach.
func (w *Writer) blockAtLevel(level uint16) *pendingBlock {
	if len(w.blocks) == 0 {
		w.blocks = append(w.blocks, &pendingBlock{level: level})
		return w.blocks[len(w.blocks)-1]
	}
	top := w.blocks[len(w.blocks)-1]
	for top.level > level {
		w.blocks = append(w.blocks, &pendingBlock{level: top.level - 1})
		top = w.blocks[len(w.blocks)-1]
	}
	return top
}

// flushTopBlock writes the block at the top of the stack and pushes a
// PosLen pointer entry to the level above it, recursively flushing
// further if that bubbles the parent past BlockSize too.
func (w *Writer) flushTopBlock() error {
	top := w.blocks[len(w.blocks)-1]
	w.blocks = w.blocks[:len(w.blocks)-1]

	firstKey := top.members[0].Key

	frame, err := block.EncodeFrame(top.level, w.compression, top.members)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(frame); err != nil {
		return fmt.Errorf("writer: writing block: %w", err)
	}

	blockpos := w.pos
	blocklen := uint32(len(frame))
	pos := blockpos
	w.lastNodePos = &pos
	w.pos += uint64(blocklen)

	return w.appendToLevel(top.level+1, entry.PosLen(blockpos, blocklen, firstKey))
}

// Close drains any buffered blocks bottom-up, discards a trailing
// solo-inner block (it would add depth without fan-out), writes the
// trailer, and syncs the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.file.Close()

	for len(w.blocks) > 0 {
		top := w.blocks[len(w.blocks)-1]
		if len(w.blocks) == 1 && top.isSoloInnerBlock() {
			break
		}
		if err := w.flushTopBlock(); err != nil {
			return err
		}
	}

	var rootPos uint64
	if w.lastNodePos != nil {
		rootPos = *w.lastNodePos
	} else {
		if _, err := w.file.Write(block.EncodeEmptyFrame()); err != nil {
			return fmt.Errorf("writer: writing empty root block: %w", err)
		}
		rootPos = firstBlockPos
	}

	w.trailer.RootPos = rootPos
	trailerBytes, err := w.trailer.Encode()
	if err != nil {
		return fmt.Errorf("writer: encoding trailer: %w", err)
	}
	if _, err := w.file.Write(trailerBytes); err != nil {
		return fmt.Errorf("writer: writing trailer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("writer: fsync: %w", err)
	}
	return nil
}
