// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package subprocess starts the child command whose standard input and
// output take the place of the bridge's own.
//
// With pipes (the default) the parent holds the write end of the
// child's stdin and the read end of its stdout. With a pseudo-terminal
// the parent holds the pty master, which is both readable and
// writable; the slave is put in raw mode before the child starts so
// that the terminal line discipline neither echoes lines back nor
// rewrites newlines. The child's stderr is always inherited.
//
// SIGINT and SIGTERM received by the parent are forwarded to the child
// until [Child.Wait] returns.
package subprocess
