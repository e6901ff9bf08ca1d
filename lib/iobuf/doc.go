// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package iobuf provides the byte buffer and line framing used by the
// descriptor channel in lib/fdio.
//
// [Buffer] is an owned, growable byte container. The zero value is
// empty and holds no allocation. Capacity grows by reallocation when an
// append or reservation would exceed it, and shrinks back through
// [Buffer.MaybeShrink] once a burst of data has drained, so a
// long-running bridge does not keep a multi-megabyte buffer alive after
// one large message. [Buffer.Spare] and [Buffer.Commit] let a caller
// read(2) directly into the unused tail without an intermediate copy.
//
// [ExtractLine] removes one newline-terminated record from the front of
// a Buffer. Empty records are consumed silently and never returned. An
// unterminated tail is held back until the caller reports end of
// stream, at which point it is returned once as the final line. This
// keeps a message that straddles several reads intact while still
// delivering a last line that lacks its terminator.
package iobuf
