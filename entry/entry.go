// Package entry implements the tagged record format every hanoidb tree
// file and the nursery's write-ahead log are built from: a
// length-prefixed, CRC32-protected, terminator-delimited record holding
// either a key/value pair, a tombstone, or an internal B-tree pointer.
package entry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Kind distinguishes the four record variants. Transact is reserved by
// the wire format but never produced or consumed by this implementation.
type Kind uint8

const (
	KindKeyVal Kind = iota
	KindDeleted
	KindPosLen
	KindTransact
)

func (k Kind) String() string {
	switch k {
	case KindKeyVal:
		return "KeyVal"
	case KindDeleted:
		return "Deleted"
	case KindPosLen:
		return "PosLen"
	case KindTransact:
		return "Transact"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Wire tags, fixed by the file format (spec §6).
const (
	TagKeyVal     byte = 0x80
	TagDeleted    byte = 0x81
	TagPosLen32   byte = 0x82
	TagTransact   byte = 0x83 // reserved, unused
	TagKeyValTS   byte = 0x84
	TagDeletedTS  byte = 0x85
	TagTerminator byte = 0xFF

	maxReasonableSz = 1 << 30
)

// ErrEndOfFile is returned by Decode when the stream ends cleanly at an
// entry boundary; callers should treat this as "no more entries", not as
// a failure.
var ErrEndOfFile = errors.New("entry: end of file")

// Errors surfaced while decoding or constructing an entry.
var (
	ErrCorrupted       = errors.New("entry: corrupted")
	ErrInvalidTag      = errors.New("entry: invalid tag")
	ErrIncompleteEntry = errors.New("entry: incomplete")
	ErrPosLenRequired  = errors.New("entry: PosLen entry required")
)

// Entry is a single record. Only the fields relevant to Kind are
// meaningful; KeyVal uses Key/Value/Timestamp, Deleted uses
// Key/Timestamp, PosLen uses BlockPos/BlockLen/Key.
type Entry struct {
	Kind      Kind
	Key       []byte
	Value     []byte
	Timestamp *uint32
	BlockPos  uint64
	BlockLen  uint32
}

// KeyVal builds a value record, optionally timestamped.
func KeyVal(key, value []byte, ts *uint32) Entry {
	return Entry{Kind: KindKeyVal, Key: key, Value: value, Timestamp: ts}
}

// Deleted builds a tombstone record, optionally timestamped.
func Deleted(key []byte, ts *uint32) Entry {
	return Entry{Kind: KindDeleted, Key: key, Timestamp: ts}
}

// PosLen builds an internal B-tree pointer record. Never visible at the
// public API; only writer/tree exchange these.
func PosLen(blockpos uint64, blocklen uint32, key []byte) Entry {
	return Entry{Kind: KindPosLen, BlockPos: blockpos, BlockLen: blocklen, Key: key}
}

func (e Entry) IsKeyVal() bool  { return e.Kind == KindKeyVal }
func (e Entry) IsDeleted() bool { return e.Kind == KindDeleted }
func (e Entry) IsPosLen() bool  { return e.Kind == KindPosLen }

func (e Entry) String() string {
	switch e.Kind {
	case KindKeyVal:
		return fmt.Sprintf("KeyVal{key:%q, value:%d bytes}", e.Key, len(e.Value))
	case KindDeleted:
		return fmt.Sprintf("Deleted{key:%q}", e.Key)
	case KindPosLen:
		return fmt.Sprintf("PosLen{pos:%d, len:%d, key:%q}", e.BlockPos, e.BlockLen, e.Key)
	default:
		return fmt.Sprintf("Entry{kind:%s}", e.Kind)
	}
}

// bodySize returns the length of tag+variant-body, i.e. what the
// length/crc header fields in Encode describe.
func (e Entry) bodySize() int {
	switch e.Kind {
	case KindKeyVal:
		size := 1 + 4 + len(e.Key) + len(e.Value)
		if e.Timestamp != nil {
			size += 4
		}
		return size
	case KindDeleted:
		size := 1 + len(e.Key)
		if e.Timestamp != nil {
			size += 4
		}
		return size
	case KindPosLen:
		return 1 + 8 + 4 + len(e.Key)
	default:
		return 1
	}
}

// EncodedSize is the total on-disk footprint of this entry, including
// the length, CRC, and terminator framing.
func (e Entry) EncodedSize() int {
	return 4 + 4 + e.bodySize() + 1
}

// Encode writes the framed entry: length(4B)|crc32(4B)|tag|body|0xFF.
func (e Entry) Encode(w io.Writer) error {
	body := new(bytes.Buffer)
	body.Grow(e.bodySize())

	switch e.Kind {
	case KindKeyVal:
		if e.Timestamp != nil {
			body.WriteByte(TagKeyValTS)
			writeU32(body, *e.Timestamp)
		} else {
			body.WriteByte(TagKeyVal)
		}
		writeU32(body, uint32(len(e.Key)))
		body.Write(e.Key)
		body.Write(e.Value)
	case KindDeleted:
		if e.Timestamp != nil {
			body.WriteByte(TagDeletedTS)
			writeU32(body, *e.Timestamp)
		} else {
			body.WriteByte(TagDeleted)
		}
		body.Write(e.Key)
	case KindPosLen:
		body.WriteByte(TagPosLen32)
		writeU64(body, e.BlockPos)
		writeU32(body, e.BlockLen)
		body.Write(e.Key)
	default:
		return fmt.Errorf("entry: cannot encode kind %s", e.Kind)
	}

	bodyBytes := body.Bytes()
	crc := crc32.ChecksumIEEE(bodyBytes)

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(bodyBytes)))
	binary.BigEndian.PutUint32(header[4:8], crc)

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(bodyBytes); err != nil {
		return err
	}
	if _, err := w.Write([]byte{TagTerminator}); err != nil {
		return err
	}
	return nil
}

// Decode reads one framed entry from r. A clean EOF exactly at the
// length/crc header boundary returns ErrEndOfFile; any other truncation
// returns ErrIncompleteEntry.
func Decode(r io.Reader) (Entry, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, ErrEndOfFile
		}
		return Entry{}, fmt.Errorf("entry: reading header: %w", ErrIncompleteEntry)
	}

	length := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])

	if length == 0 || length > maxReasonableSz {
		return Entry{}, fmt.Errorf("%w: implausible entry length %d", ErrCorrupted, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Entry{}, fmt.Errorf("entry: reading body: %w", ErrIncompleteEntry)
	}

	if gotCRC := crc32.ChecksumIEEE(body); gotCRC != wantCRC {
		return Entry{}, fmt.Errorf("%w: crc mismatch (want %x, got %x)", ErrCorrupted, wantCRC, gotCRC)
	}

	entry, err := decodeBody(body)
	if err != nil {
		return Entry{}, err
	}

	var term [1]byte
	if _, err := io.ReadFull(r, term[:]); err != nil {
		return Entry{}, fmt.Errorf("entry: reading terminator: %w", ErrIncompleteEntry)
	}
	if term[0] != TagTerminator {
		return Entry{}, fmt.Errorf("%w: entry missing terminator byte", ErrCorrupted)
	}

	return entry, nil
}

func decodeBody(body []byte) (Entry, error) {
	if len(body) < 1 {
		return Entry{}, fmt.Errorf("%w: empty entry body", ErrCorrupted)
	}
	tag := body[0]
	rest := body[1:]

	switch tag {
	case TagKeyVal:
		key, value, err := splitKeyVal(rest)
		if err != nil {
			return Entry{}, err
		}
		return KeyVal(key, value, nil), nil
	case TagKeyValTS:
		if len(rest) < 4 {
			return Entry{}, fmt.Errorf("%w: truncated timestamp", ErrCorrupted)
		}
		ts := binary.BigEndian.Uint32(rest[0:4])
		key, value, err := splitKeyVal(rest[4:])
		if err != nil {
			return Entry{}, err
		}
		return KeyVal(key, value, &ts), nil
	case TagDeleted:
		key := append([]byte(nil), rest...)
		return Deleted(key, nil), nil
	case TagDeletedTS:
		if len(rest) < 4 {
			return Entry{}, fmt.Errorf("%w: truncated timestamp", ErrCorrupted)
		}
		ts := binary.BigEndian.Uint32(rest[0:4])
		key := append([]byte(nil), rest[4:]...)
		return Deleted(key, &ts), nil
	case TagPosLen32:
		if len(rest) < 12 {
			return Entry{}, fmt.Errorf("%w: truncated PosLen", ErrCorrupted)
		}
		blockpos := binary.BigEndian.Uint64(rest[0:8])
		blocklen := binary.BigEndian.Uint32(rest[8:12])
		key := append([]byte(nil), rest[12:]...)
		return PosLen(blockpos, blocklen, key), nil
	default:
		return Entry{}, fmt.Errorf("%w: 0x%02x", ErrInvalidTag, tag)
	}
}

func splitKeyVal(rest []byte) (key, value []byte, err error) {
	if len(rest) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated key length", ErrCorrupted)
	}
	keylen := binary.BigEndian.Uint32(rest[0:4])
	rest = rest[4:]
	if uint64(keylen) > uint64(len(rest)) {
		return nil, nil, fmt.Errorf("%w: key length exceeds entry body", ErrCorrupted)
	}
	key = append([]byte(nil), rest[:keylen]...)
	value = append([]byte(nil), rest[keylen:]...)
	return key, value, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
