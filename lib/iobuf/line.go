// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iobuf

import "bytes"

// Newline terminates a line.
const Newline = '\n'

// ExtractLine removes the first line from buffer and returns it without
// its terminator. The returned slice is a copy and does not alias the
// buffer.
//
// The boolean is false when no line is available:
//   - the buffer holds no terminator and eof is false (wait for more
//     input),
//   - the buffer is empty at end of stream,
//   - the first line was empty. Its terminator is still consumed, so a
//     caller looping until false skips runs of blank lines one per call
//     and must call again when it knows more terminators are buffered.
//
// At end of stream an unterminated remainder is returned as the final
// line and the buffer is emptied.
func ExtractLine(buffer *Buffer, eof bool) ([]byte, bool) {
	if buffer.Len() == 0 {
		return nil, false
	}

	contents := buffer.Bytes()
	index := bytes.IndexByte(contents, Newline)
	if index < 0 {
		if !eof {
			return nil, false
		}
		line := bytes.Clone(contents)
		buffer.RemovePrefix(len(contents))
		return line, true
	}

	var line []byte
	if index > 0 {
		line = bytes.Clone(contents[:index])
	}
	buffer.RemovePrefix(index + 1)
	if line == nil {
		return nil, false
	}
	return line, true
}

// HasLine reports whether a call to ExtractLine could make progress:
// the buffer holds a terminator, or it is non-empty at end of stream.
func HasLine(buffer *Buffer, eof bool) bool {
	if buffer.Len() == 0 {
		return false
	}
	return eof || bytes.IndexByte(buffer.Bytes(), Newline) >= 0
}
