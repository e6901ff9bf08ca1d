// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm applied to a body. Tags are
// carried in envelopes; the values are wire constants.
type Tag uint8

const (
	None Tag = 0
	LZ4  Tag = 1
	Zstd Tag = 2
)

// MinSize is the body length below which Auto never compresses. Line
// sized bodies rarely shrink enough to pay for the envelope fields.
const MinSize = 128

// MaxSize bounds the declared uncompressed size accepted by
// Decompress, so a hostile envelope cannot make the receiver allocate
// arbitrarily.
const MaxSize = 16 << 20

// String returns the configuration name of a tag.
func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseTag parses a tag name as used in configuration files.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("compress: unknown algorithm %q", name)
	}
}

// errIncompressible is returned when compressed output would not be
// smaller than the input. Compress callers fall back to None.
var errIncompressible = errors.New("compress: data is incompressible")

// IsIncompressible reports whether err indicates that data could not
// be made smaller.
func IsIncompressible(err error) bool {
	return errors.Is(err, errIncompressible)
}

// Compress compresses data with the given algorithm. For None it
// returns data unchanged without copying.
func Compress(data []byte, tag Tag) ([]byte, error) {
	switch tag {
	case None:
		return data, nil
	case LZ4:
		return compressLZ4(data)
	case Zstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("compress: unsupported tag %d", uint8(tag))
	}
}

// Decompress reverses Compress. uncompressedSize must equal the
// original length exactly and may not exceed MaxSize.
func Decompress(compressed []byte, tag Tag, uncompressedSize int) ([]byte, error) {
	if uncompressedSize < 0 || uncompressedSize > MaxSize {
		return nil, fmt.Errorf("compress: declared size %d outside [0, %d]", uncompressedSize, MaxSize)
	}
	switch tag {
	case None:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("compress: uncompressed size %d does not match declared %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil
	case LZ4:
		return decompressLZ4(compressed, uncompressedSize)
	case Zstd:
		return decompressZstd(compressed, uncompressedSize)
	default:
		return nil, fmt.Errorf("compress: unsupported tag %d", uint8(tag))
	}
}

// Select probes data with zstd. A ratio of at least 1.5 selects zstd,
// at least 1.1 selects LZ4, anything less selects None.
func Select(data []byte) Tag {
	if len(data) < MinSize {
		return None
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return Zstd
	case ratio >= 1.1:
		return LZ4
	default:
		return None
	}
}

// Auto compresses data with the algorithm chosen by Select, falling
// back to None when the chosen algorithm does not shrink it.
func Auto(data []byte) ([]byte, Tag, error) {
	return WithFallback(data, Select(data))
}

// WithFallback compresses data with tag, returning the original bytes
// and None when data is shorter than MinSize or incompressible.
func WithFallback(data []byte, tag Tag) ([]byte, Tag, error) {
	if tag == None || len(data) < MinSize {
		return data, None, nil
	}
	compressed, err := Compress(data, tag)
	if err != nil {
		if IsIncompressible(err) {
			return data, None, nil
		}
		return nil, 0, err
	}
	return compressed, tag, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("compress: lz4: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("compress: zstd: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("compress: zstd: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
