// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fdio multiplexes one readable and one writable file descriptor
// in a single goroutine using poll(2).
//
// [Channel] owns two [iobuf.Buffer] values: bytes read from the readable
// descriptor accumulate in the input buffer until [Channel.NextLine]
// extracts complete lines, and bytes passed to [Channel.Enqueue] wait in
// the output buffer until the writable descriptor accepts them. Each
// call to [Channel.Poll] waits up to a caller-chosen timeout and then
// performs at most one read(2) and at most one write(2):
//
//   - A zero-byte read marks end of stream. The flag is sticky; the
//     readable descriptor is not polled again.
//   - EINTR on poll, read, or write restarts the same call.
//   - EAGAIN on write retries immediately with half the chunk size.
//     Falling below Options.MinWriteChunk is fatal ([ErrWriteStalled]).
//   - Any other failure is returned as an [*IOError] and the caller is
//     expected to stop using the channel.
//
// Writes are chunked to at most one page (Options.WriteChunk) so that a
// slow reader on the other end of a pipe cannot make a single write
// block the loop when the descriptor is in blocking mode.
//
// The channel never opens or closes descriptors. Callers acquire them
// (stdin/stdout, pipes to a child, a pty master) and release them after
// the channel is no longer used. Options.NonBlockingWrite puts the
// writable descriptor in O_NONBLOCK once at construction.
//
// Channel is not safe for concurrent use.
package fdio
