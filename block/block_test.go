package block

import (
	"bytes"
	"testing"

	"github.com/stairsdb/hanoidb/compression"
	"github.com/stairsdb/hanoidb/entry"
)

// memReaderAt adapts a byte slice to io.ReaderAt for tests.
type memReaderAt []byte

func (m memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(m).ReadAt(p, off)
}

func TestEncodeDecodeLeafBlockRoundTrip(t *testing.T) {
	entries := []entry.Entry{
		entry.KeyVal([]byte("a"), []byte("1"), nil),
		entry.KeyVal([]byte("b"), []byte("2"), nil),
		entry.Deleted([]byte("c"), nil),
	}

	frame, err := EncodeFrame(0, compression.None, entries)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	b, err := ReadAt(memReaderAt(frame), 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !b.IsLeaf() {
		t.Fatal("expected leaf block")
	}

	got := b.Entries()
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if string(got[i].Key) != string(entries[i].Key) {
			t.Fatalf("entry %d key mismatch: got %q want %q", i, got[i].Key, entries[i].Key)
		}
	}
}

func TestEncodeDecodeWithCompression(t *testing.T) {
	entries := []entry.Entry{entry.KeyVal([]byte("k"), bytes.Repeat([]byte("v"), 256), nil)}

	for _, codec := range []compression.Codec{compression.Snappy, compression.Gzip, compression.LZ4} {
		frame, err := EncodeFrame(0, codec, entries)
		if err != nil {
			t.Fatalf("EncodeFrame(%s): %v", codec, err)
		}
		b, err := ReadAt(memReaderAt(frame), 0)
		if err != nil {
			t.Fatalf("ReadAt(%s): %v", codec, err)
		}
		got := b.Entries()
		if len(got) != 1 || string(got[0].Value) != string(entries[0].Value) {
			t.Fatalf("%s round trip mismatch", codec)
		}
	}
}

func TestExpectAtLenValidatesFrameLength(t *testing.T) {
	entries := []entry.Entry{entry.KeyVal([]byte("k"), []byte("v"), nil)}
	frame, err := EncodeFrame(0, compression.None, entries)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ExpectAtLen(memReaderAt(frame), 0, uint32(len(frame))); err != nil {
		t.Fatalf("correct length rejected: %v", err)
	}
	if _, err := ExpectAtLen(memReaderAt(frame), 0, uint32(len(frame))+1); err == nil {
		t.Fatal("expected a mismatch error for an incorrect length")
	}
}

func TestEmptyFrameRoundTrip(t *testing.T) {
	frame := EncodeEmptyFrame()
	if len(frame) != 6 {
		t.Fatalf("empty frame should be 6 bytes, got %d", len(frame))
	}

	b, err := ReadAt(memReaderAt(frame), 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if len(b.Entries()) != 0 {
		t.Fatal("empty block should decode to no entries")
	}
}

func TestReadAtRejectsMissingTerminator(t *testing.T) {
	entries := []entry.Entry{entry.KeyVal([]byte("k"), []byte("v"), nil)}
	frame, err := EncodeFrame(0, compression.None, entries)
	if err != nil {
		t.Fatal(err)
	}
	frame[7] = 0x00 // corrupt the terminator byte, first byte of payload

	if _, err := ReadAt(memReaderAt(frame), 0); err == nil {
		t.Fatal("expected corruption error for missing terminator")
	}
}
