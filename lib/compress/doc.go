// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress compresses message bodies before they are placed in
// a session envelope. Each compressed body travels with a one-byte
// [Tag] and its uncompressed size; [Decompress] verifies the size.
//
// Two algorithms are supported: LZ4 block compression
// (github.com/pierrec/lz4/v4) for speed and zstd
// (github.com/klauspost/compress/zstd) for ratio. [Auto] probes the
// body with zstd and picks zstd, LZ4, or no compression from the
// ratio. Bodies shorter than [MinSize] are never compressed.
package compress
