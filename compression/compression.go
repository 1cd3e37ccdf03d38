// Package compression adapts the handful of byte-in/byte-out codecs a
// hanoidb block payload may be wrapped in. It is a thin indirection
// layer only: the actual codec work is delegated to the same
// third-party libraries the rest of the LSM corpus in this project
// reaches for.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to a block's payload. The
// byte values are fixed by the file format (spec §6).
type Codec uint8

const (
	None   Codec = 0
	Snappy Codec = 1
	Gzip   Codec = 2
	LZ4    Codec = 3
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case Gzip:
		return "gzip"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

// ErrInvalidCodec is returned for any byte outside the 0-3 range.
type ErrInvalidCodec uint8

func (e ErrInvalidCodec) Error() string {
	return fmt.Sprintf("compression: invalid codec byte 0x%02x", uint8(e))
}

// Parse validates a codec byte read from a block header.
func Parse(b byte) (Codec, error) {
	switch Codec(b) {
	case None, Snappy, Gzip, LZ4:
		return Codec(b), nil
	default:
		return 0, ErrInvalidCodec(b)
	}
}

// Compress returns raw passed through the codec named by c.
func Compress(c Codec, raw []byte) ([]byte, error) {
	switch c {
	case None:
		return raw, nil
	case Snappy:
		var buf bytes.Buffer
		w := snappy.NewBufferedWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("compression: snappy: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compression: snappy: %w", err)
		}
		return buf.Bytes(), nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("compression: gzip: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compression: gzip: %w", err)
		}
		return buf.Bytes(), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("compression: lz4: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compression: lz4: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, ErrInvalidCodec(c)
	}
}

// NewReader wraps r with a streaming decompressor matching c. For None
// it returns r unchanged.
func NewReader(c Codec, r io.Reader) (io.Reader, error) {
	switch c {
	case None:
		return r, nil
	case Snappy:
		return snappy.NewReader(r), nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("compression: gzip: %w", err)
		}
		return gz, nil
	case LZ4:
		return lz4.NewReader(r), nil
	default:
		return nil, ErrInvalidCodec(c)
	}
}

// Decompress fully drains a compressed buffer through the matching
// streaming decompressor.
func Decompress(c Codec, compressed []byte) ([]byte, error) {
	r, err := NewReader(c, bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compression: %s: %w", c, err)
	}
	return out, nil
}
