// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/linebridge/lib/clock"
	"github.com/bureau-foundation/linebridge/lib/jid"
	"github.com/bureau-foundation/linebridge/session"
)

const (
	// DefaultPollInterval bounds one readiness wait.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultDrainTimeout bounds the output flush after end of input.
	DefaultDrainTimeout = 5 * time.Second
)

// Stream is the local side of the bridge. *fdio.Channel implements it.
type Stream interface {
	Poll(timeout time.Duration) error
	NextLine() ([]byte, bool)
	EOF() bool
	Enqueue(p []byte)
	Pending() int
	Drain(clk clock.Clock, deadline time.Time, interval time.Duration) error
}

// Stats counts the traffic of one Run.
type Stats struct {
	LinesSent         int
	MessagesDelivered int
	DroppedDelayed    int
	DroppedForeign    int
	DroppedEmpty      int
}

// Bridge forwards lines from Stream to Session and accepted messages
// from Session back to Stream.
type Bridge struct {
	// Stream and Session are required.
	Stream  Stream
	Session session.Session

	// Peer is the identifier inbound senders must match. Required.
	Peer string

	// ShowDelayed keeps messages the service stored while this side was
	// offline.
	ShowDelayed bool

	// PollInterval bounds each readiness wait. Default:
	// DefaultPollInterval.
	PollInterval time.Duration

	// DrainTimeout bounds the output flush after end of input. Default:
	// DefaultDrainTimeout.
	DrainTimeout time.Duration

	// Clock measures the drain deadline. Default: clock.Real().
	Clock clock.Clock

	// Logger receives lifecycle events and per-message debug output. If
	// nil, slog.Default() is used.
	Logger *slog.Logger

	// Resolved by Run from the exported fields.
	pollInterval time.Duration
	drainTimeout time.Duration
	clock        clock.Clock

	stats Stats
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Stats returns the counters accumulated by Run.
func (b *Bridge) Stats() Stats { return b.stats }

// Run drives the loop until end of input (nil), or until a stream
// error, send failure, session termination, or ctx cancellation.
func (b *Bridge) Run(ctx context.Context) error {
	if b.Stream == nil {
		return fmt.Errorf("bridge: Stream is required")
	}
	if b.Session == nil {
		return fmt.Errorf("bridge: Session is required")
	}
	if !jid.Validate(b.Peer) {
		return fmt.Errorf("bridge: invalid peer identifier %q", b.Peer)
	}
	b.pollInterval = b.PollInterval
	if b.pollInterval <= 0 {
		b.pollInterval = DefaultPollInterval
	}
	b.drainTimeout = b.DrainTimeout
	if b.drainTimeout <= 0 {
		b.drainTimeout = DefaultDrainTimeout
	}
	b.clock = b.Clock
	if b.clock == nil {
		b.clock = clock.Real()
	}

	logger := b.logger()
	logger.Info("bridge running",
		"local_id", b.Session.LocalID(),
		"peer", b.Peer,
		"show_delayed", b.ShowDelayed,
	)

	err := b.loop(ctx)
	logger.Info("bridge stopped",
		"lines_sent", b.stats.LinesSent,
		"messages_delivered", b.stats.MessagesDelivered,
		"dropped_delayed", b.stats.DroppedDelayed,
		"dropped_foreign", b.stats.DroppedForeign,
		"dropped_empty", b.stats.DroppedEmpty,
		"error", err,
	)
	return err
}

func (b *Bridge) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-b.Session.Done():
			return fmt.Errorf("bridge: session ended: %w", sessionError(b.Session))
		default:
		}

		if err := b.Stream.Poll(b.pollInterval); err != nil {
			return fmt.Errorf("bridge: %w", err)
		}

		for {
			line, ok := b.Stream.NextLine()
			if !ok {
				break
			}
			if err := b.Session.Send(ctx, string(line)); err != nil {
				return fmt.Errorf("bridge: sending line: %w", err)
			}
			b.stats.LinesSent++
		}

		b.receive()

		if b.Stream.EOF() {
			return b.drain()
		}
	}
}

// receive takes every message already waiting on the session.
func (b *Bridge) receive() {
	incoming := b.Session.Receive()
	for {
		select {
		case message := <-incoming:
			b.accept(message)
		default:
			return
		}
	}
}

func (b *Bridge) accept(message session.Message) {
	logger := b.logger()
	switch {
	case message.Delayed && !b.ShowDelayed:
		b.stats.DroppedDelayed++
		logger.Debug("dropping delayed message", "from", message.From)
	case !jid.Match(message.From, b.Peer):
		b.stats.DroppedForeign++
		logger.Debug("dropping message from unexpected sender", "from", message.From)
	case message.Body == "":
		b.stats.DroppedEmpty++
	default:
		line := message.Body
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		b.Stream.Enqueue([]byte(line))
		b.stats.MessagesDelivered++
	}
}

func (b *Bridge) drain() error {
	if b.Stream.Pending() == 0 {
		return nil
	}
	deadline := b.clock.Now().Add(b.drainTimeout)
	if err := b.Stream.Drain(b.clock, deadline, b.pollInterval); err != nil {
		return fmt.Errorf("bridge: flushing output: %w", err)
	}
	return nil
}

func sessionError(s session.Session) error {
	if err := s.Err(); err != nil {
		return err
	}
	return errors.New("terminated without error")
}
