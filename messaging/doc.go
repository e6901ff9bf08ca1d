// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a minimal Matrix client-server API client, enough
// to carry a line-oriented conversation through one room.
//
// [Client] is unauthenticated: it holds the homeserver URL and the HTTP
// transport and performs [Client.Login]. The resulting [DirectSession]
// carries the access token in a secret.Buffer and offers the calls the
// Matrix session backend needs: [DirectSession.WhoAmI],
// [DirectSession.JoinRoom], [DirectSession.SendMessage], and
// long-polling [DirectSession.Sync]. Callers must Close a DirectSession
// to release the token memory.
//
// All API errors are returned as [*MatrixError] carrying the standard
// Matrix error code and HTTP status. Request URLs are built by string
// concatenation with url.PathEscape on each segment, so room IDs and
// aliases are never double-encoded.
package messaging
