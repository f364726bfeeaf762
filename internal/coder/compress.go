package coder

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names the stream codec wrapped around spill segments.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case CompressionNone, CompressionLZ4, CompressionZstd:
		return Compression(s), nil
	case "":
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("coder: unknown compression %q", s)
	}
}

// NewSpillWriter wraps w with the named compression. The returned writer
// must be closed to flush the compressed stream before the underlying
// file is closed.
func NewSpillWriter(k Compression, w io.Writer) (io.WriteCloser, error) {
	switch k {
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("coder: unknown compression %q", k)
	}
}

// NewSpillReader wraps r with the matching decompressor.
func NewSpillReader(k Compression, r io.Reader) (io.ReadCloser, error) {
	switch k {
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionNone:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("coder: unknown compression %q", k)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
