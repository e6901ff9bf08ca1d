// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Message is one inbound text message.
type Message struct {
	// From is the sender's full identifier (local@domain/resource when
	// the service exposes a resource).
	From string

	// Body is the message text. It may be empty; empty bodies are
	// dropped by the bridge.
	Body string

	// Delayed is set for messages stored by the service while the
	// recipient was offline and delivered late.
	Delayed bool
}

// Session is a connected presence on a messaging service.
type Session interface {
	// Send delivers body as one message to the configured peer.
	Send(ctx context.Context, body string) error

	// Receive returns the channel of inbound messages. The channel is
	// never closed; watch Done for termination.
	Receive() <-chan Message

	// Done is closed when the session terminates for any reason other
	// than Close.
	Done() <-chan struct{}

	// Err returns the reason the session terminated, or nil while it is
	// live.
	Err() error

	// LocalID returns the full identifier this session is bound to.
	LocalID() string

	// Close disconnects. It is safe to call more than once.
	Close() error
}

// ResourcePrefix begins every generated resource.
const ResourcePrefix = "linebridge-"

// GenerateResource returns a resource for sessions configured with a
// bare identifier, of the form "linebridge-" followed by eight hex
// digits.
func GenerateResource() string {
	id := uuid.New()
	return ResourcePrefix + strings.ReplaceAll(id.String(), "-", "")[:8]
}
