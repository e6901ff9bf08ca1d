// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session defines the boundary between the line bridge and the
// remote messaging service that carries its lines.
//
// A [Session] is an authenticated, connected presence on a messaging
// service: it sends single text messages to a configured peer and
// delivers every inbound message on a channel. The bridge drains that
// channel without blocking between polls of its local descriptors, so a
// Session implementation must run its own receive loop and must never
// block the caller of Send for longer than one network round trip.
//
// Three implementations are provided:
//
//   - [Memory] is an in-process pair used by tests.
//   - [NATS] publishes CBOR envelopes on per-identity inbox subjects.
//   - [Matrix] joins a room on a Matrix homeserver and long-polls /sync.
//
// [Message.Delayed] marks a message the service stored while this side
// was offline. Matrix reports it for events in the catch-up sync. Core
// NATS has no store-and-forward, so a NATS message is Delayed only when
// a relay that held it stamped the envelope's delay field; without such
// a relay every NATS message is live.
//
// Identities are JIDs (local@domain/resource, see lib/jid). The peer
// filter applied to inbound messages lives in the bridge, not here:
// sessions deliver everything addressed to them.
package session
