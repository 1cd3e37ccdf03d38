// Package bloomtrailer implements the end-of-file trailer every tree
// file carries: a bloom filter over every key in the file, plus the
// absolute offset of the root block (spec §4.3).
//
// Layout: padding(4x0) | raw_bloom(bloom_len bytes) | bloom_len(4B) | root_pos(8B).
package bloomtrailer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	defaultExpectedItems = 1024
	defaultFalsePositive = 0.01
)

// Errors surfaced while parsing a trailer.
var (
	ErrCorrupted       = errors.New("bloomtrailer: corrupted")
	ErrBloomTooLarge   = errors.New("bloomtrailer: bloom filter too large")
	ErrBloomCorrupted  = errors.New("bloomtrailer: bloom filter corrupted")
	ErrRootOutOfBounds = errors.New("bloomtrailer: root_pos outside file bounds")
)

// Trailer holds the parsed bloom filter and root block pointer.
type Trailer struct {
	Bloom   *bloom.BloomFilter
	RootPos uint64
}

// NewForWrite constructs a trailer builder sized for expectedItems keys
// at a 1% false-positive rate, matching the teacher's sst writer
// (bloom.NewWithEstimates) and spec §4.3's default sizing.
func NewForWrite(expectedItems int) *Trailer {
	if expectedItems <= 0 {
		expectedItems = defaultExpectedItems
	}
	return &Trailer{Bloom: bloom.NewWithEstimates(uint(expectedItems), defaultFalsePositive)}
}

// Add records a key's presence in the filter. Only called for
// non-PosLen entries (spec §4.5).
func (t *Trailer) Add(key []byte) {
	t.Bloom.Add(key)
}

// Contains reports whether key might be present; false is a definitive
// negative (no false negatives, per spec §3).
func (t *Trailer) Contains(key []byte) bool {
	return t.Bloom.Test(key)
}

// Encode serializes the trailer. The bloom filter's own self-describing
// binary form (its m and k parameters plus the bit array) is embedded
// as raw_bloom; the trailer's own padding/length/root_pos framing around
// it is fixed by the file format. This satisfies spec §9's "either
// encoding is acceptable if writer and reader round-trip" open question.
func (t *Trailer) Encode() ([]byte, error) {
	var rawBloom bytes.Buffer
	if _, err := t.Bloom.WriteTo(&rawBloom); err != nil {
		return nil, fmt.Errorf("bloomtrailer: serializing bloom filter: %w", err)
	}
	if rawBloom.Len() > int(^uint32(0)) {
		return nil, ErrBloomTooLarge
	}

	out := make([]byte, 0, 4+rawBloom.Len()+4+8)
	out = append(out, 0, 0, 0, 0)
	out = append(out, rawBloom.Bytes()...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(rawBloom.Len()))
	out = append(out, lenBuf[:]...)

	var posBuf [8]byte
	binary.BigEndian.PutUint64(posBuf[:], t.RootPos)
	out = append(out, posBuf[:]...)

	return out, nil
}

// ReadFrom parses the trailer from the end of an open tree file of the
// given total length.
func ReadFrom(r io.ReaderAt, fileLen int64) (*Trailer, error) {
	if fileLen < 12 {
		return nil, fmt.Errorf("%w: file too small for a trailer", ErrCorrupted)
	}

	tail := make([]byte, 12)
	if _, err := r.ReadAt(tail, fileLen-12); err != nil {
		return nil, fmt.Errorf("bloomtrailer: reading trailer tail: %w", err)
	}
	bloomLen := binary.BigEndian.Uint32(tail[0:4])
	rootPos := binary.BigEndian.Uint64(tail[4:12])

	paddingStart := fileLen - 12 - int64(bloomLen) - 4
	if paddingStart < 0 {
		return nil, fmt.Errorf("%w: bloom length overruns file", ErrCorrupted)
	}

	padding := make([]byte, 4)
	if _, err := r.ReadAt(padding, paddingStart); err != nil {
		return nil, fmt.Errorf("bloomtrailer: reading padding: %w", err)
	}
	if !bytes.Equal(padding, []byte{0, 0, 0, 0}) {
		return nil, fmt.Errorf("%w: missing trailer padding", ErrCorrupted)
	}

	if rootPos >= uint64(fileLen) {
		return nil, ErrRootOutOfBounds
	}

	if bloomLen == 0 {
		return &Trailer{
			Bloom:   bloom.NewWithEstimates(defaultExpectedItems, defaultFalsePositive),
			RootPos: rootPos,
		}, nil
	}

	rawBloom := make([]byte, bloomLen)
	if _, err := r.ReadAt(rawBloom, paddingStart+4); err != nil {
		return nil, fmt.Errorf("bloomtrailer: reading bloom bytes: %w", err)
	}

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(rawBloom)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBloomCorrupted, err)
	}

	return &Trailer{Bloom: filter, RootPos: rootPos}, nil
}
