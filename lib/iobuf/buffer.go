// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iobuf

import "fmt"

const (
	// GrowStep is the minimum headroom added on reallocation. A buffer
	// that grows always has room for at least GrowStep more bytes
	// afterwards, so a stream of small appends does not reallocate on
	// every call.
	GrowStep = 1 << 12

	// DefaultShrinkThreshold is the slack (capacity beyond the live
	// size) above which MaybeShrink releases memory.
	DefaultShrinkThreshold = 1 << 20

	// DefaultShrinkMargin is the headroom kept after a shrink.
	DefaultShrinkMargin = GrowStep
)

// Buffer is a growable byte container. The live contents are
// data[:len(data)]; bytes between the length and the capacity are
// scratch space and carry no meaning.
//
// Buffer is not safe for concurrent use. It is owned by exactly one
// channel endpoint.
type Buffer struct {
	data []byte
}

// Len returns the number of live bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the allocated capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Bytes returns the live contents. The slice aliases the buffer and is
// invalidated by the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data }

// Append copies p onto the end of the buffer, growing it if needed.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.Reserve(len(p))
	b.data = append(b.data, p...)
}

// Reserve guarantees room for at least n more bytes without another
// reallocation.
func (b *Buffer) Reserve(n int) {
	if n < 0 {
		panic(fmt.Sprintf("iobuf: negative reservation %d", n))
	}
	need := len(b.data) + n
	if need <= cap(b.data) {
		return
	}
	newCapacity := 2 * cap(b.data)
	if newCapacity < need+GrowStep {
		newCapacity = need + GrowStep
	}
	b.realloc(newCapacity)
}

// Spare returns the unused tail of the allocation. Bytes written there
// become live only after Commit.
func (b *Buffer) Spare() []byte {
	return b.data[len(b.data):cap(b.data)]
}

// Commit extends the live contents by n bytes previously written into
// Spare.
func (b *Buffer) Commit(n int) {
	if n < 0 || len(b.data)+n > cap(b.data) {
		panic(fmt.Sprintf("iobuf: commit of %d bytes exceeds spare capacity %d", n, cap(b.data)-len(b.data)))
	}
	b.data = b.data[:len(b.data)+n]
}

// RemovePrefix discards the first n bytes and moves the remainder to
// the front. The vacated tail is zeroed so that stale bytes past the
// new length never resemble live data. Panics if n exceeds Len.
func (b *Buffer) RemovePrefix(n int) {
	size := len(b.data)
	if n < 0 || n > size {
		panic(fmt.Sprintf("iobuf: cannot remove %d bytes from a buffer of %d", n, size))
	}
	if n == 0 {
		return
	}
	remaining := copy(b.data, b.data[n:])
	clear(b.data[remaining:size])
	b.data = b.data[:remaining]
}

// MaybeShrink reallocates down to Len()+margin when the capacity
// exceeds Len()+highWater. Contents and length are unchanged.
func (b *Buffer) MaybeShrink(highWater, margin int) {
	if cap(b.data) > len(b.data)+highWater {
		b.realloc(len(b.data) + margin)
	}
}

// Reset empties the buffer and releases its allocation.
func (b *Buffer) Reset() {
	clear(b.data)
	b.data = nil
}

func (b *Buffer) realloc(capacity int) {
	if capacity == 0 {
		b.data = nil
		return
	}
	next := make([]byte, len(b.data), capacity)
	copy(next, b.data)
	b.data = next
}
