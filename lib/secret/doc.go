// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credentials (the session password, a Matrix
// access token) in memory outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM with mlock and
// excluded from core dumps with MADV_DONTDUMP. The garbage collector
// never copies it. Close zeroes, unlocks, and unmaps the region.
//
// Secrets enter a Buffer from a file ([ReadFromPath]), from bytes
// already in memory ([NewFromBytes], which zeroes the source), or from
// an environment value ([NewFromString]). Conversions back to string
// happen only at library boundaries that demand one, such as
// nats.UserInfo or a JSON login body.
package secret
