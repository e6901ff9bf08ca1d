// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// linebridge connects a line-oriented byte stream to a messaging
// session with one peer. Each line read from standard input is sent as
// one message; each message accepted from the peer is written to
// standard output as one line.
//
// With a command after the flags, linebridge starts that command and
// bridges its standard input and output instead of its own (pipes by
// default, a pseudo-terminal with --pty). The command's exit status
// becomes linebridge's exit status.
//
// Usage:
//
//	linebridge [flags] [command [args...]]
//
// The identity can come from the configuration file or from the
// environment variables XMPPBRIDGE_JID, XMPPBRIDGE_PASSWORD, and
// XMPPBRIDGE_PEER_JID. When started as root, linebridge switches to the
// "nobody" account after starting the command and reading the password
// unless --no-drop-privileges is given.
package main
