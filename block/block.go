// Package block implements the framing for one contiguous region of a
// tree file holding a sorted run of entries (spec §4.2).
//
// On disk: blocklen(4B) | level(2B) | compression(1B) | payload, where
// blocklen counts the bytes following the blocklen field itself
// (level+compression+payload). The payload, once decompressed, begins
// with the fixed terminator byte (0xFF) and is followed by the
// concatenated encoded entries — the terminator is folded into the
// payload so it composes with compression, per the later convention
// spec §9 resolves the historical header-layout disagreement to.
//
// A blocklen of zero is a special empty-block form: only the 4-byte
// blocklen field and a 2-byte level field are present, no compression
// byte, terminator, or payload.
package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/stairsdb/hanoidb/compression"
	"github.com/stairsdb/hanoidb/entry"
)

// ErrCorrupted marks structural block-framing violations.
var ErrCorrupted = errors.New("block: corrupted")

// Block is a parsed, already-decompressed block ready for entry
// iteration. Start and FrameLen describe the on-disk extent so a PosLen
// pointer to this block can be validated by a caller.
type Block struct {
	Start       uint64
	FrameLen    uint32 // total on-disk bytes of this block, including the 4-byte blocklen field
	Level       uint16
	Compression compression.Codec
	entries     []byte // decompressed payload with the leading terminator byte stripped
}

// ReadAt parses one block beginning at the given absolute file offset.
func ReadAt(r io.ReaderAt, offset int64) (*Block, error) {
	header := make([]byte, 4)
	if _, err := r.ReadAt(header, offset); err != nil {
		return nil, fmt.Errorf("block: reading blocklen at %d: %w", offset, err)
	}
	blocklen := binary.BigEndian.Uint32(header)

	if blocklen == 0 {
		levelBuf := make([]byte, 2)
		if _, err := r.ReadAt(levelBuf, offset+4); err != nil {
			return nil, fmt.Errorf("block: reading empty block level: %w", err)
		}
		return &Block{
			Start:       uint64(offset),
			FrameLen:    6,
			Level:       binary.BigEndian.Uint16(levelBuf),
			Compression: compression.None,
		}, nil
	}

	rest := make([]byte, blocklen)
	if _, err := r.ReadAt(rest, offset+4); err != nil {
		return nil, fmt.Errorf("block: reading block body at %d: %w", offset, err)
	}
	level := binary.BigEndian.Uint16(rest[0:2])
	codec, err := compression.Parse(rest[2])
	if err != nil {
		return nil, fmt.Errorf("block: %w", err)
	}
	compressed := rest[3:]

	raw, err := compression.Decompress(codec, compressed)
	if err != nil {
		return nil, fmt.Errorf("block: decompressing payload: %w", err)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: non-empty block missing terminator", ErrCorrupted)
	}
	if raw[0] != entry.TagTerminator {
		return nil, fmt.Errorf("%w: block entries did not start with terminator", ErrCorrupted)
	}

	return &Block{
		Start:       uint64(offset),
		FrameLen:    4 + blocklen,
		Level:       level,
		Compression: codec,
		entries:     raw[1:],
	}, nil
}

// ExpectAtLen re-parses the block at offset and checks that its declared
// blocklen matches length (the full on-disk frame length, including the
// 4-byte blocklen field, as recorded in a PosLen pointer), minus that
// 4-byte field.
func ExpectAtLen(r io.ReaderAt, offset int64, length uint32) (*Block, error) {
	b, err := ReadAt(r, offset)
	if err != nil {
		return nil, err
	}
	if b.FrameLen != length {
		return nil, fmt.Errorf("block: incorrect block length: expected %d, got %d", length, b.FrameLen)
	}
	return b, nil
}

// Entries returns the block's entries in file order (ascending key
// order, by the block invariant). A decode failure partway through the
// payload silently terminates the stream, matching spec §7's "iterating
// a block past a bad entry yields no further entries".
func (b *Block) Entries() []entry.Entry {
	if len(b.entries) == 0 {
		return nil
	}
	r := bytes.NewReader(b.entries)
	var out []entry.Entry
	for {
		e, err := entry.Decode(r)
		if err != nil {
			return out
		}
		out = append(out, e)
	}
}

// IsLeaf reports whether this block holds KeyVal/Deleted entries
// (level 0) rather than PosLen pointers (level > 0).
func (b *Block) IsLeaf() bool {
	return b.Level == 0
}

// EncodeFrame builds the complete on-disk bytes for a non-empty block:
// the terminator and concatenated entries are compressed together, then
// the blocklen/level/compression header is composed around the result
// (blocklen can only be known once compression has run).
func EncodeFrame(level uint16, codec compression.Codec, entries []entry.Entry) ([]byte, error) {
	raw := new(bytes.Buffer)
	raw.WriteByte(entry.TagTerminator)
	for _, e := range entries {
		if err := e.Encode(raw); err != nil {
			return nil, fmt.Errorf("block: encoding entry: %w", err)
		}
	}

	payload, err := compression.Compress(codec, raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("block: compressing payload: %w", err)
	}

	blocklen := 2 + 1 + len(payload)
	frame := make([]byte, 4, 4+blocklen)
	binary.BigEndian.PutUint32(frame, uint32(blocklen))

	var levelBuf [2]byte
	binary.BigEndian.PutUint16(levelBuf[:], level)
	frame = append(frame, levelBuf[:]...)
	frame = append(frame, byte(codec))
	frame = append(frame, payload...)
	return frame, nil
}

// EncodeEmptyFrame returns the minimal 6-byte header for a level-0 block
// with no entries: blocklen=0, level=0.
func EncodeEmptyFrame() []byte {
	return []byte{0, 0, 0, 0, 0, 0}
}
