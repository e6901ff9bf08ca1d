// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fdio

import "golang.org/x/sys/unix"

// system is the system-call surface used by Channel. Production code
// uses unixSystem; tests substitute a scripted implementation to
// produce partial writes, EAGAIN, and EINTR on demand.
type system interface {
	poll(descriptors []unix.PollFd, timeoutMillis int) (int, error)
	read(fd int, p []byte) (int, error)
	write(fd int, p []byte) (int, error)
}

type unixSystem struct{}

func (unixSystem) poll(descriptors []unix.PollFd, timeoutMillis int) (int, error) {
	return unix.Poll(descriptors, timeoutMillis)
}

func (unixSystem) read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func (unixSystem) write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}
