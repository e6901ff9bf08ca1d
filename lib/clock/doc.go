// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock instead of calling time.Now or
// time.After directly. In production, Real() provides the standard
// library behavior. In tests, Fake() provides a deterministic clock
// that advances only when Advance is called.
//
// When a goroutine under test is about to block in After, call
// WaitForTimers before Advance so the advance cannot race ahead of the
// waiter's registration.
package clock
