// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fdio

import (
	"errors"
	"fmt"
)

// ErrWriteStalled is the cause of an [*IOError] when the writable
// descriptor kept reporting EAGAIN after the write chunk was halved
// below the configured minimum.
var ErrWriteStalled = errors.New("write stalled: descriptor would block at minimum chunk size")

// ErrDrainTimeout is returned by Drain when buffered output remains at
// the deadline.
var ErrDrainTimeout = errors.New("fdio: output not drained before deadline")

// IOError is a fatal failure of poll, read, or write. Callers extract it
// with errors.As to report the operation and descriptor:
//
//	var ioError *fdio.IOError
//	if errors.As(err, &ioError) && errors.Is(ioError.Err, unix.EPIPE) { ... }
type IOError struct {
	// Op is "poll", "read", or "write".
	Op string
	// FD is the descriptor the operation targeted. For poll failures it
	// is the readable descriptor.
	FD int
	// Err is the underlying errno or ErrWriteStalled.
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("fdio: %s on fd %d: %v", e.Op, e.FD, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
