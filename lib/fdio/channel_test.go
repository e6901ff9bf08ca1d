// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fdio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/linebridge/lib/clock"
)

const (
	fakeReadFD  = 3
	fakeWriteFD = 4
)

type fakeRead struct {
	data []byte
	err  error
}

// fakeSystem scripts poll, read, and write results. Reads are served
// from a queue (an exhausted queue reads as end of stream). Writes
// append to written, limited to writeLimit bytes per call when set.
type fakeSystem struct {
	pollErrors []error
	pollCalls  [][]unix.PollFd
	// revents computes the returned events for one descriptor. Nil
	// reports every requested event as ready.
	revents func(fd int32, events int16) int16
	onPoll  func(timeoutMillis int)

	reads []fakeRead

	writeErrors   []error
	writeLimit    int
	eagainAbove   int
	alwaysBlock   bool
	writeAttempts []int
	written       []byte
}

func (f *fakeSystem) poll(descriptors []unix.PollFd, timeoutMillis int) (int, error) {
	f.pollCalls = append(f.pollCalls, append([]unix.PollFd(nil), descriptors...))
	if len(f.pollErrors) > 0 {
		err := f.pollErrors[0]
		f.pollErrors = f.pollErrors[1:]
		return -1, err
	}
	if f.onPoll != nil {
		f.onPoll(timeoutMillis)
	}
	ready := 0
	for index := range descriptors {
		events := descriptors[index].Events
		if f.revents != nil {
			descriptors[index].Revents = f.revents(descriptors[index].Fd, events)
		} else {
			descriptors[index].Revents = events
		}
		if descriptors[index].Revents != 0 {
			ready++
		}
	}
	return ready, nil
}

func (f *fakeSystem) read(fd int, p []byte) (int, error) {
	if len(f.reads) == 0 {
		return 0, nil
	}
	next := f.reads[0]
	if next.err != nil {
		f.reads = f.reads[1:]
		return -1, next.err
	}
	count := copy(p, next.data)
	if count < len(next.data) {
		f.reads[0].data = next.data[count:]
	} else {
		f.reads = f.reads[1:]
	}
	return count, nil
}

func (f *fakeSystem) write(fd int, p []byte) (int, error) {
	f.writeAttempts = append(f.writeAttempts, len(p))
	if len(f.writeErrors) > 0 {
		err := f.writeErrors[0]
		f.writeErrors = f.writeErrors[1:]
		if err != nil {
			return -1, err
		}
	}
	if f.alwaysBlock || (f.eagainAbove > 0 && len(p) > f.eagainAbove) {
		return -1, unix.EAGAIN
	}
	count := len(p)
	if f.writeLimit > 0 && count > f.writeLimit {
		count = f.writeLimit
	}
	f.written = append(f.written, p[:count]...)
	return count, nil
}

func newFakeChannel(t *testing.T, sys *fakeSystem, options Options) *Channel {
	t.Helper()
	channel, err := newChannel(fakeReadFD, fakeWriteFD, options, sys)
	if err != nil {
		t.Fatalf("newChannel: %v", err)
	}
	return channel
}

func collectLines(channel *Channel) []string {
	var lines []string
	for {
		line, ok := channel.NextLine()
		if !ok {
			return lines
		}
		lines = append(lines, string(line))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(-1, 1, Options{}); err == nil {
		t.Error("expected error for negative readable descriptor")
	}
	if _, err := New(0, -1, Options{}); err == nil {
		t.Error("expected error for negative writable descriptor")
	}
	if _, err := New(0, 1, Options{WriteChunk: 8, MinWriteChunk: 16}); err == nil {
		t.Error("expected error when MinWriteChunk exceeds WriteChunk")
	}
}

func TestNew_Defaults(t *testing.T) {
	channel := newFakeChannel(t, &fakeSystem{}, Options{})
	if channel.options.ReadSize != DefaultReadSize {
		t.Errorf("ReadSize = %d, want %d", channel.options.ReadSize, DefaultReadSize)
	}
	if channel.options.WriteChunk != unix.Getpagesize() {
		t.Errorf("WriteChunk = %d, want page size %d", channel.options.WriteChunk, unix.Getpagesize())
	}
	if channel.options.MinWriteChunk != 1 {
		t.Errorf("MinWriteChunk = %d, want 1", channel.options.MinWriteChunk)
	}
}

func TestChannel_Pipes(t *testing.T) {
	inputReader, inputWriter, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer inputReader.Close()
	outputReader, outputWriter, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer outputReader.Close()
	defer outputWriter.Close()

	channel, err := New(int(inputReader.Fd()), int(outputWriter.Fd()), Options{NonBlockingWrite: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer channel.Close()

	if _, err := inputWriter.Write([]byte("alpha\n\nbeta\ngam")); err != nil {
		t.Fatal(err)
	}
	inputWriter.Close()

	var lines []string
	for attempt := 0; attempt < 100 && !channel.EOF(); attempt++ {
		if err := channel.Poll(100 * time.Millisecond); err != nil {
			t.Fatalf("Poll: %v", err)
		}
		lines = append(lines, collectLines(channel)...)
	}
	if !channel.EOF() {
		t.Fatal("end of stream never observed")
	}
	lines = append(lines, collectLines(channel)...)
	want := []string{"alpha", "beta", "gam"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for index := range want {
		if lines[index] != want[index] {
			t.Fatalf("lines = %q, want %q", lines, want)
		}
	}

	channel.Enqueue([]byte("first\n"))
	channel.Enqueue([]byte("second\n"))
	for attempt := 0; attempt < 100 && channel.Pending() > 0; attempt++ {
		if err := channel.Poll(100 * time.Millisecond); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if channel.Pending() != 0 {
		t.Fatalf("%d bytes still pending", channel.Pending())
	}
	outputWriter.Close()
	output, err := io.ReadAll(outputReader)
	if err != nil {
		t.Fatal(err)
	}
	if string(output) != "first\nsecond\n" {
		t.Fatalf("output = %q, want %q", output, "first\nsecond\n")
	}
}

func TestChannel_LineSplitAcrossReads(t *testing.T) {
	sys := &fakeSystem{reads: []fakeRead{{data: []byte("hi ")}, {data: []byte("there\n")}, {err: unix.EAGAIN}}}
	channel := newFakeChannel(t, sys, Options{})

	if err := channel.Poll(0); err != nil {
		t.Fatalf("first Poll: %v", err)
	}
	if line, ok := channel.NextLine(); ok {
		t.Fatalf("NextLine after first read = %q, want nothing", line)
	}
	if channel.EOF() {
		t.Fatal("partial read treated as end of stream")
	}

	if err := channel.Poll(0); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	line, ok := channel.NextLine()
	if !ok || string(line) != "hi there" {
		t.Fatalf("NextLine after second read = (%q, %v), want (\"hi there\", true)", line, ok)
	}
	if line, ok := channel.NextLine(); ok {
		t.Fatalf("extra line %q", line)
	}
}

func TestChannel_NothingToWaitFor(t *testing.T) {
	sys := &fakeSystem{}
	channel := newFakeChannel(t, sys, Options{})
	channel.eof = true

	if err := channel.Poll(time.Second); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(sys.pollCalls) != 0 {
		t.Fatalf("poll called %d times with nothing to wait for", len(sys.pollCalls))
	}
}

func TestChannel_EOFIsSticky(t *testing.T) {
	sys := &fakeSystem{reads: []fakeRead{{data: []byte("x\n")}}}
	channel := newFakeChannel(t, sys, Options{})

	for attempt := 0; attempt < 3 && !channel.EOF(); attempt++ {
		if err := channel.Poll(0); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if !channel.EOF() {
		t.Fatal("end of stream not observed")
	}

	channel.Enqueue([]byte("out"))
	sys.pollCalls = nil
	if err := channel.Poll(0); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(sys.pollCalls) != 1 || len(sys.pollCalls[0]) != 1 || sys.pollCalls[0][0].Fd != fakeWriteFD {
		t.Fatalf("poll after eof watched %+v, want only the writable descriptor", sys.pollCalls)
	}
	if !channel.EOF() {
		t.Fatal("end of stream flag cleared")
	}
}

func TestChannel_WriteBackPressure(t *testing.T) {
	const limit = 7
	sys := &fakeSystem{
		writeLimit: limit,
		reads:      []fakeRead{{err: unix.EAGAIN}},
	}
	channel := newFakeChannel(t, sys, Options{WriteChunk: 64})
	channel.eof = true

	var payload bytes.Buffer
	for index := 0; index < 500; index++ {
		payload.WriteString("line ")
		payload.WriteByte(byte('a' + index%26))
		payload.WriteByte('\n')
	}
	channel.Enqueue(payload.Bytes()[:payload.Len()/2])
	channel.Enqueue(payload.Bytes()[payload.Len()/2:])

	for attempt := 0; attempt < 10000 && channel.Pending() > 0; attempt++ {
		if err := channel.Poll(0); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if channel.Pending() != 0 {
		t.Fatalf("%d bytes still pending", channel.Pending())
	}
	if !bytes.Equal(sys.written, payload.Bytes()) {
		t.Fatal("written bytes differ from enqueued bytes")
	}
	for _, attempt := range sys.writeAttempts {
		if attempt > 64 {
			t.Fatalf("write attempt of %d bytes exceeds WriteChunk", attempt)
		}
	}
	minimumWrites := (payload.Len() + limit - 1) / limit
	if len(sys.writeAttempts) < minimumWrites {
		t.Fatalf("%d writes, expected at least %d", len(sys.writeAttempts), minimumWrites)
	}
}

func TestChannel_EAGAINHalvesChunk(t *testing.T) {
	sys := &fakeSystem{eagainAbove: 100}
	channel := newFakeChannel(t, sys, Options{WriteChunk: 4096})
	channel.eof = true
	channel.Enqueue(bytes.Repeat([]byte("z"), 1000))

	if err := channel.Poll(0); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	want := []int{1000, 500, 250, 125, 62}
	if len(sys.writeAttempts) != len(want) {
		t.Fatalf("write attempts = %v, want %v", sys.writeAttempts, want)
	}
	for index := range want {
		if sys.writeAttempts[index] != want[index] {
			t.Fatalf("write attempts = %v, want %v", sys.writeAttempts, want)
		}
	}
	if channel.Pending() != 1000-62 {
		t.Fatalf("Pending = %d, want %d", channel.Pending(), 1000-62)
	}
}

func TestChannel_WriteStalled(t *testing.T) {
	sys := &fakeSystem{alwaysBlock: true}
	channel := newFakeChannel(t, sys, Options{})
	channel.eof = true
	channel.Enqueue([]byte("hello"))

	err := channel.Poll(0)
	if !errors.Is(err, ErrWriteStalled) {
		t.Fatalf("Poll error = %v, want ErrWriteStalled", err)
	}
	var ioError *IOError
	if !errors.As(err, &ioError) {
		t.Fatalf("error %T is not *IOError", err)
	}
	if ioError.Op != "write" || ioError.FD != fakeWriteFD {
		t.Errorf("IOError = %+v, want write on fd %d", ioError, fakeWriteFD)
	}
	if got := sys.writeAttempts; len(got) != 3 || got[0] != 5 || got[1] != 2 || got[2] != 1 {
		t.Errorf("write attempts = %v, want [5 2 1]", got)
	}
	if channel.Pending() != 5 {
		t.Errorf("Pending = %d after stall, want 5", channel.Pending())
	}
}

func TestChannel_EINTRRestarts(t *testing.T) {
	sys := &fakeSystem{
		pollErrors:  []error{unix.EINTR},
		reads:       []fakeRead{{err: unix.EINTR}, {data: []byte("ok\n")}, {err: unix.EAGAIN}},
		writeErrors: []error{unix.EINTR},
	}
	channel := newFakeChannel(t, sys, Options{})
	channel.Enqueue([]byte("out\n"))

	if err := channel.Poll(10 * time.Millisecond); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(sys.pollCalls) != 2 {
		t.Errorf("poll called %d times, want 2", len(sys.pollCalls))
	}
	lines := collectLines(channel)
	if len(lines) != 1 || lines[0] != "ok" {
		t.Errorf("lines = %q, want [\"ok\"]", lines)
	}
	if string(sys.written) != "out\n" {
		t.Errorf("written = %q, want %q", sys.written, "out\n")
	}
	if channel.EOF() {
		t.Error("EINTR treated as end of stream")
	}
}

func TestChannel_SharedDescriptor(t *testing.T) {
	sys := &fakeSystem{reads: []fakeRead{{err: unix.EAGAIN}}}
	channel, err := newChannel(fakeReadFD, fakeReadFD, Options{}, sys)
	if err != nil {
		t.Fatalf("newChannel: %v", err)
	}
	channel.Enqueue([]byte("both\n"))

	if err := channel.Poll(0); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(sys.pollCalls) != 1 || len(sys.pollCalls[0]) != 1 {
		t.Fatalf("poll descriptors = %+v, want a single entry", sys.pollCalls)
	}
	if events := sys.pollCalls[0][0].Events; events != unix.POLLIN|unix.POLLOUT {
		t.Fatalf("events = %#x, want POLLIN|POLLOUT", events)
	}
	if string(sys.written) != "both\n" {
		t.Fatalf("written = %q", sys.written)
	}
}

func TestChannel_InvalidDescriptor(t *testing.T) {
	sys := &fakeSystem{
		revents: func(fd int32, events int16) int16 {
			if fd == fakeWriteFD {
				return unix.POLLNVAL
			}
			return 0
		},
	}
	channel := newFakeChannel(t, sys, Options{})
	channel.Enqueue([]byte("x"))

	err := channel.Poll(0)
	var ioError *IOError
	if !errors.As(err, &ioError) {
		t.Fatalf("Poll error = %v, want *IOError", err)
	}
	if ioError.FD != fakeWriteFD || !errors.Is(err, unix.EBADF) {
		t.Fatalf("IOError = %+v, want EBADF on fd %d", ioError, fakeWriteFD)
	}
}

func TestChannel_HangupAsEOF(t *testing.T) {
	sys := &fakeSystem{reads: []fakeRead{{data: []byte("tail")}, {err: unix.EIO}}}
	channel := newFakeChannel(t, sys, Options{HangupAsEOF: true})

	for attempt := 0; attempt < 2; attempt++ {
		if err := channel.Poll(0); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if !channel.EOF() {
		t.Fatal("EIO not treated as end of stream")
	}
	lines := collectLines(channel)
	if len(lines) != 1 || lines[0] != "tail" {
		t.Fatalf("lines = %q, want [\"tail\"]", lines)
	}

	strict := newFakeChannel(t, &fakeSystem{reads: []fakeRead{{err: unix.EIO}}}, Options{})
	err := strict.Poll(0)
	var ioError *IOError
	if !errors.As(err, &ioError) || ioError.Op != "read" || !errors.Is(err, unix.EIO) {
		t.Fatalf("Poll error = %v, want read EIO", err)
	}
}

func TestChannel_NothingReady(t *testing.T) {
	sys := &fakeSystem{revents: func(int32, int16) int16 { return 0 }}
	channel := newFakeChannel(t, sys, Options{})
	channel.Enqueue([]byte("held"))

	if err := channel.Poll(time.Microsecond); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(sys.writeAttempts) != 0 {
		t.Fatal("write attempted although poll reported nothing ready")
	}
	if channel.Pending() != 4 {
		t.Fatalf("Pending = %d, want 4", channel.Pending())
	}
}

func TestChannel_Drain(t *testing.T) {
	epoch := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("completes", func(t *testing.T) {
		fake := clock.Fake(epoch)
		sys := &fakeSystem{writeLimit: 3}
		channel := newFakeChannel(t, sys, Options{})
		channel.Enqueue([]byte("drain me\n"))

		if err := channel.Drain(fake, fake.Now().Add(time.Second), 100*time.Millisecond); err != nil {
			t.Fatalf("Drain: %v", err)
		}
		if string(sys.written) != "drain me\n" {
			t.Fatalf("written = %q", sys.written)
		}
		for _, call := range sys.pollCalls {
			if len(call) != 1 || call[0].Fd != fakeWriteFD {
				t.Fatalf("drain polled %+v, want only the writable descriptor", call)
			}
		}
	})

	t.Run("deadline", func(t *testing.T) {
		fake := clock.Fake(epoch)
		sys := &fakeSystem{
			revents: func(int32, int16) int16 { return 0 },
			onPoll: func(timeoutMillis int) {
				fake.Advance(time.Duration(timeoutMillis) * time.Millisecond)
			},
		}
		channel := newFakeChannel(t, sys, Options{})
		channel.Enqueue([]byte("stuck"))

		err := channel.Drain(fake, fake.Now().Add(time.Second), 100*time.Millisecond)
		if !errors.Is(err, ErrDrainTimeout) {
			t.Fatalf("Drain error = %v, want ErrDrainTimeout", err)
		}
		if len(sys.pollCalls) != 10 {
			t.Errorf("poll called %d times, want 10", len(sys.pollCalls))
		}
	})
}

func TestPollTimeout(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    int
	}{
		{-1, -1},
		{0, 0},
		{time.Microsecond, 1},
		{100 * time.Millisecond, 100},
		{1500 * time.Microsecond, 1},
	}
	for _, test := range tests {
		if got := pollTimeout(test.timeout); got != test.want {
			t.Errorf("pollTimeout(%v) = %d, want %d", test.timeout, got, test.want)
		}
	}
}
