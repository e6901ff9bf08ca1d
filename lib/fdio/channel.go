// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fdio

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/linebridge/lib/clock"
	"github.com/bureau-foundation/linebridge/lib/iobuf"
)

// DefaultReadSize is the free space guaranteed in the input buffer
// before each read(2).
const DefaultReadSize = 4096

// Options configures a Channel. The zero value is usable.
type Options struct {
	// NonBlockingWrite sets O_NONBLOCK on the writable descriptor at
	// construction. A failure is logged and the channel continues in
	// blocking mode, where a write of one chunk may block the loop.
	NonBlockingWrite bool

	// ReadSize is the free space reserved before each read. Default:
	// DefaultReadSize.
	ReadSize int

	// WriteChunk caps the size of one write(2). Default: the system
	// page size.
	WriteChunk int

	// MinWriteChunk is the smallest chunk tried after repeated EAGAIN
	// halving. Default: 1.
	MinWriteChunk int

	// HangupAsEOF treats EIO from read(2) as end of stream. A pty master
	// reports EIO once the slave side has been closed by the child.
	HangupAsEOF bool

	// ShrinkThreshold and ShrinkMargin control buffer shrinking after
	// consumption. Defaults: iobuf.DefaultShrinkThreshold and
	// iobuf.DefaultShrinkMargin.
	ShrinkThreshold int
	ShrinkMargin    int

	// Logger receives debug events (end of stream, back-pressure). If
	// nil, slog.Default() is used.
	Logger *slog.Logger
}

// Channel multiplexes reads from one descriptor and writes to another.
// See the package documentation for the retry and error rules.
type Channel struct {
	readFD  int
	writeFD int

	input  iobuf.Buffer
	output iobuf.Buffer
	eof    bool

	options Options
	system  system
	logger  *slog.Logger

	descriptors [2]unix.PollFd
}

// New creates a Channel over already-open descriptors. readFD and
// writeFD may be the same descriptor (a pty master or a socket).
func New(readFD, writeFD int, options Options) (*Channel, error) {
	return newChannel(readFD, writeFD, options, unixSystem{})
}

func newChannel(readFD, writeFD int, options Options, sys system) (*Channel, error) {
	if readFD < 0 {
		return nil, fmt.Errorf("fdio: invalid readable descriptor %d", readFD)
	}
	if writeFD < 0 {
		return nil, fmt.Errorf("fdio: invalid writable descriptor %d", writeFD)
	}

	if options.ReadSize <= 0 {
		options.ReadSize = DefaultReadSize
	}
	if options.WriteChunk <= 0 {
		options.WriteChunk = unix.Getpagesize()
	}
	if options.MinWriteChunk <= 0 {
		options.MinWriteChunk = 1
	}
	if options.MinWriteChunk > options.WriteChunk {
		return nil, fmt.Errorf("fdio: MinWriteChunk %d exceeds WriteChunk %d", options.MinWriteChunk, options.WriteChunk)
	}
	if options.ShrinkThreshold <= 0 {
		options.ShrinkThreshold = iobuf.DefaultShrinkThreshold
	}
	if options.ShrinkMargin <= 0 {
		options.ShrinkMargin = iobuf.DefaultShrinkMargin
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	channel := &Channel{
		readFD:  readFD,
		writeFD: writeFD,
		options: options,
		system:  sys,
		logger:  logger,
	}

	if options.NonBlockingWrite {
		if err := unix.SetNonblock(writeFD, true); err != nil {
			logger.Warn("cannot make writable descriptor non-blocking, writes may block",
				"fd", writeFD,
				"error", err,
			)
		}
	}

	return channel, nil
}

// EOF reports whether end of stream has been read. Once true it stays
// true.
func (c *Channel) EOF() bool { return c.eof }

// Pending returns the number of enqueued bytes not yet written.
func (c *Channel) Pending() int { return c.output.Len() }

// Buffered returns the number of read bytes not yet extracted as lines.
func (c *Channel) Buffered() int { return c.input.Len() }

// Enqueue appends p to the output buffer. It never blocks; the bytes
// are written by later calls to Poll, in enqueue order.
func (c *Channel) Enqueue(p []byte) {
	c.output.Append(p)
}

// NextLine returns the next non-empty line from the input buffer,
// without its terminator. After end of stream, an unterminated
// remainder is returned once as the final line.
func (c *Channel) NextLine() ([]byte, bool) {
	for iobuf.HasLine(&c.input, c.eof) {
		line, ok := iobuf.ExtractLine(&c.input, c.eof)
		c.input.MaybeShrink(c.options.ShrinkThreshold, c.options.ShrinkMargin)
		if ok {
			return line, true
		}
	}
	return nil, false
}

// Poll waits up to timeout for the readable descriptor (unless end of
// stream has been seen) and, when output is pending, the writable
// descriptor. It then performs one read and one write for whichever
// became ready. A timeout with nothing ready returns nil. A negative
// timeout waits indefinitely.
//
// With nothing to wait for (end of stream and no pending output) Poll
// returns nil immediately.
func (c *Channel) Poll(timeout time.Duration) error {
	wantRead := !c.eof
	wantWrite := c.output.Len() > 0
	if !wantRead && !wantWrite {
		return nil
	}

	descriptors := c.descriptors[:0]
	readIndex, writeIndex := -1, -1
	if wantRead {
		readIndex = len(descriptors)
		descriptors = append(descriptors, unix.PollFd{Fd: int32(c.readFD), Events: unix.POLLIN})
	}
	if wantWrite {
		if wantRead && c.writeFD == c.readFD {
			descriptors[readIndex].Events |= unix.POLLOUT
			writeIndex = readIndex
		} else {
			writeIndex = len(descriptors)
			descriptors = append(descriptors, unix.PollFd{Fd: int32(c.writeFD), Events: unix.POLLOUT})
		}
	}

	timeoutMillis := pollTimeout(timeout)
	for {
		count, err := c.system.poll(descriptors, timeoutMillis)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return &IOError{Op: "poll", FD: c.readFD, Err: err}
		}
		if count == 0 {
			return nil
		}
		break
	}

	for _, descriptor := range descriptors {
		if descriptor.Revents&unix.POLLNVAL != 0 {
			return &IOError{Op: "poll", FD: int(descriptor.Fd), Err: unix.EBADF}
		}
	}

	if readIndex >= 0 && descriptors[readIndex].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		if err := c.performRead(); err != nil {
			return err
		}
	}
	if writeIndex >= 0 && descriptors[writeIndex].Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
		if err := c.performWrite(); err != nil {
			return err
		}
	}
	return nil
}

// Drain polls only for output until the output buffer is empty or the
// clock passes deadline. Each wait is bounded by interval. Returns
// ErrDrainTimeout if bytes remain at the deadline.
func (c *Channel) Drain(clk clock.Clock, deadline time.Time, interval time.Duration) error {
	for c.output.Len() > 0 {
		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			return fmt.Errorf("%w: %d bytes pending", ErrDrainTimeout, c.output.Len())
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		if err := c.pollWrite(wait); err != nil {
			return err
		}
	}
	return nil
}

// Close releases both buffers, zeroing their contents. The descriptors
// are left open for the caller to close.
func (c *Channel) Close() error {
	c.input.Reset()
	c.output.Reset()
	return nil
}

func (c *Channel) pollWrite(timeout time.Duration) error {
	descriptors := c.descriptors[:1]
	descriptors[0] = unix.PollFd{Fd: int32(c.writeFD), Events: unix.POLLOUT}
	timeoutMillis := pollTimeout(timeout)
	for {
		count, err := c.system.poll(descriptors, timeoutMillis)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return &IOError{Op: "poll", FD: c.writeFD, Err: err}
		}
		if count == 0 {
			return nil
		}
		break
	}
	revents := descriptors[0].Revents
	if revents&unix.POLLNVAL != 0 {
		return &IOError{Op: "poll", FD: c.writeFD, Err: unix.EBADF}
	}
	if revents&(unix.POLLOUT|unix.POLLERR) != 0 {
		return c.performWrite()
	}
	return nil
}

// performRead does one read(2) into the input buffer.
func (c *Channel) performRead() error {
	c.input.Reserve(c.options.ReadSize)
	for {
		count, err := c.system.read(c.readFD, c.input.Spare())
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EIO) && c.options.HangupAsEOF:
			c.markEOF()
			return nil
		case err != nil:
			return &IOError{Op: "read", FD: c.readFD, Err: err}
		case count == 0:
			c.markEOF()
			return nil
		}
		c.input.Commit(count)
		return nil
	}
}

// performWrite does one write(2) of at most WriteChunk bytes from the
// front of the output buffer, halving the chunk on EAGAIN.
func (c *Channel) performWrite() error {
	chunk := min(c.options.WriteChunk, c.output.Len())
	for {
		written, err := c.system.write(c.writeFD, c.output.Bytes()[:chunk])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			chunk /= 2
			if chunk < c.options.MinWriteChunk {
				return &IOError{Op: "write", FD: c.writeFD, Err: ErrWriteStalled}
			}
			c.logger.Debug("write would block, retrying with smaller chunk",
				"fd", c.writeFD,
				"chunk", chunk,
			)
			continue
		case err != nil:
			return &IOError{Op: "write", FD: c.writeFD, Err: err}
		}
		c.output.RemovePrefix(written)
		c.output.MaybeShrink(c.options.ShrinkThreshold, c.options.ShrinkMargin)
		return nil
	}
}

func (c *Channel) markEOF() {
	if !c.eof {
		c.logger.Debug("end of stream", "fd", c.readFD, "buffered", c.input.Len())
	}
	c.eof = true
}

// pollTimeout converts a duration to poll(2) milliseconds, rounding a
// positive sub-millisecond timeout up so it does not become a busy poll.
func pollTimeout(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	millis := int(timeout / time.Millisecond)
	if millis == 0 && timeout > 0 {
		millis = 1
	}
	return millis
}
