// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge joins a line-oriented byte stream to a messaging
// session.
//
// [Bridge.Run] is a single-goroutine loop. Each iteration polls the
// stream for at most PollInterval, forwards every complete line it now
// holds as one outbound message, and then takes every inbound message
// already waiting on the session without blocking. Accepted messages
// become lines enqueued on the stream's output side:
//
//   - delayed (stored-and-forwarded) messages are dropped unless
//     ShowDelayed is set;
//   - messages whose sender does not match Peer (see [jid.Match]) are
//     dropped, so a bare Peer accepts every resource of that identity
//     while a full Peer accepts exactly one;
//   - empty bodies are dropped;
//   - a newline is appended unless the body already ends in one.
//
// The loop ends without error once the stream reaches end of input and
// every buffered line has been sent; pending output is then flushed for
// at most DrainTimeout. A fatal stream error, a failed send, session
// termination, or context cancellation end it with an error.
//
// The only suspension point is the readiness wait inside the stream's
// Poll, so inbound latency is bounded by PollInterval.
package bridge
