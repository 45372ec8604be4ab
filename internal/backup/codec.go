package backup

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to a backup archive.
type Codec string

// Supported codecs.
const (
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec parses a codec name. Empty means zstd.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case "", CodecZstd:
		return CodecZstd, nil
	case CodecLZ4:
		return CodecLZ4, nil
	default:
		return "", fmt.Errorf("backup: unknown codec %q", name)
	}
}

// Extension returns the file extension of the codec, without the dot.
func (c Codec) Extension() string {
	switch c {
	case CodecLZ4:
		return "lz4"
	default:
		return "zst"
	}
}

// codecForExtension is the inverse of Extension.
func codecForExtension(ext string) (Codec, bool) {
	switch ext {
	case "zst":
		return CodecZstd, true
	case "lz4":
		return CodecLZ4, true
	default:
		return "", false
	}
}

// compressor wraps w with the codec's streaming encoder. Closing the
// returned writer flushes the frame but does not close w.
func (c Codec) compressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("backup: zstd encoder: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("backup: unsupported codec %q", c)
	}
}

// decompressor wraps r with the codec's streaming decoder.
func (c Codec) decompressor(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("backup: zstd decoder: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("backup: unsupported codec %q", c)
	}
}
