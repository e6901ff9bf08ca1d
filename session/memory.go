// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
)

// Compile-time interface check.
var _ Session = (*Memory)(nil)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("session: closed")

// Memory is an in-process Session for tests. Sent bodies are recorded
// and, when the session is linked with [LinkMemory], delivered to the
// other side. Tests inject inbound messages directly with Inject.
type Memory struct {
	localID  string
	incoming chan Message

	mu        sync.Mutex
	sent      []string
	sendError error
	peer      *Memory
	done      chan struct{}
	err       error
	closed    bool
}

// NewMemory creates a Memory session bound to localID. The inbound
// channel buffers 256 messages; Inject blocks beyond that.
func NewMemory(localID string) *Memory {
	return &Memory{
		localID:  localID,
		incoming: make(chan Message, 256),
		done:     make(chan struct{}),
	}
}

// LinkMemory connects two Memory sessions so that each one's Send
// arrives on the other's Receive channel, with From set to the sender's
// LocalID.
func LinkMemory(a, b *Memory) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (m *Memory) Send(ctx context.Context, body string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.sendError != nil {
		err := m.sendError
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, body)
	peer := m.peer
	m.mu.Unlock()

	if peer != nil {
		return peer.deliver(ctx, Message{From: m.localID, Body: body})
	}
	return nil
}

// Inject queues an inbound message as if it arrived from the service.
func (m *Memory) Inject(message Message) {
	m.incoming <- message
}

func (m *Memory) deliver(ctx context.Context, message Message) error {
	select {
	case m.incoming <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent returns a copy of every body passed to Send, in order.
func (m *Memory) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// FailSends makes every later Send return err. A nil err restores
// normal behavior.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendError = err
}

// Terminate ends the session as if the service disconnected: Done is
// closed and Err returns err.
func (m *Memory) Terminate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminateLocked(err)
}

func (m *Memory) terminateLocked(err error) {
	select {
	case <-m.done:
		return
	default:
	}
	m.err = err
	close(m.done)
}

func (m *Memory) Receive() <-chan Message { return m.incoming }

func (m *Memory) Done() <-chan struct{} { return m.done }

func (m *Memory) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Memory) LocalID() string { return m.localID }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
