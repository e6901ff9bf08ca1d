// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/linebridge/lib/clock"
	"github.com/bureau-foundation/linebridge/lib/codec"
	"github.com/bureau-foundation/linebridge/lib/compress"
	"github.com/bureau-foundation/linebridge/lib/jid"
	"github.com/bureau-foundation/linebridge/lib/secret"
)

// Compile-time interface check.
var _ Session = (*NATS)(nil)

// DefaultSubjectPrefix is the first token of every message subject.
const DefaultSubjectPrefix = "linebridge"

// incomingBuffer is the capacity of the inbound message channel of the
// network-backed sessions.
const incomingBuffer = 256

// NATSOptions configures DialNATS.
type NATSOptions struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string

	// SubjectPrefix is prepended to inbox subjects. Default:
	// DefaultSubjectPrefix.
	SubjectPrefix string

	// Name is the client connection name reported to the server.
	// Default: the local identifier.
	Name string

	// Local is this session's identity. A bare identifier gets a
	// generated resource.
	Local jid.JID

	// Peer is the identity messages are sent to. A bare peer receives on
	// any of its resources.
	Peer jid.JID

	// Password authenticates Local's bare identifier as the NATS user.
	// Nil connects without credentials. Read, not closed.
	Password *secret.Buffer

	// Compression is "auto", "none", "lz4", or "zstd". Default: auto.
	Compression string

	// Clock stamps outbound envelopes. Default: clock.Real().
	Clock clock.Clock

	// Logger receives connection events. Default: slog.Default().
	Logger *slog.Logger

	// ExtraOptions are appended after the options DialNATS builds.
	ExtraOptions []nats.Option
}

// envelope is the CBOR payload of one NATS message.
type envelope struct {
	From        jid.JID      `cbor:"from"`
	To          jid.JID      `cbor:"to"`
	Body        []byte       `cbor:"body"`
	Compression compress.Tag `cbor:"compression,omitempty"`
	Size        int          `cbor:"size"`
	Sent        int64        `cbor:"sent"`

	// Delay is set (unix nanoseconds) by a store-and-forward relay when
	// the message was held for an offline recipient. Core NATS delivers
	// only to live subscribers and never sets it; senders leave it zero.
	Delay int64 `cbor:"delay,omitempty"`
}

// NATS is a Session that exchanges CBOR envelopes over core NATS.
// Messages travel on [MessageSubject], which names both the recipient
// and the sender. Each identity subscribes to every sender token under
// its [InboxSubject]; envelopes addressed to a different resource of
// the same identity are ignored, and envelopes whose From does not
// hash to the sender token are rejected.
//
// The sender token is only as trustworthy as the server's publish
// permissions: each NATS user must be allowed to publish on
// [PublishPermission] and subscribe on [SubscribePermission] of its own
// identity, and nothing else under the prefix.
type NATS struct {
	conn         *nats.Conn
	subscription *nats.Subscription
	local        jid.JID
	peer         jid.JID
	peerSubject  string
	compression  string
	clock        clock.Clock
	logger       *slog.Logger

	incoming chan Message
	closing  chan struct{}
	done     chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

// IdentityToken returns the subject token for identity: the hex BLAKE3
// digest of the bare identifier. Hashing keeps '.', '*' and '>' in
// identifiers out of the subject syntax.
func IdentityToken(identity jid.JID) string {
	digest := blake3.Sum256([]byte(identity.Bare().String()))
	return hex.EncodeToString(digest[:])
}

// InboxSubject returns the subject prefix under which identity
// receives: prefix, a dot, and [IdentityToken] of identity.
func InboxSubject(prefix string, identity jid.JID) string {
	return prefix + "." + IdentityToken(identity)
}

// MessageSubject returns the subject of a message from sender to
// recipient: the recipient's inbox followed by the sender's token.
func MessageSubject(prefix string, recipient, sender jid.JID) string {
	return InboxSubject(prefix, recipient) + "." + IdentityToken(sender)
}

// PublishPermission returns the subject pattern identity's NATS user
// may publish on: any recipient, with its own token as the sender.
func PublishPermission(prefix string, identity jid.JID) string {
	return prefix + ".*." + IdentityToken(identity)
}

// SubscribePermission returns the subject pattern identity's NATS user
// may subscribe on: its own inbox, from any sender.
func SubscribePermission(prefix string, identity jid.JID) string {
	return InboxSubject(prefix, identity) + ".*"
}

// DialNATS connects to the server, subscribes to Local's inbox, and
// returns the live session.
func DialNATS(ctx context.Context, options NATSOptions) (*NATS, error) {
	if options.Local.IsZero() {
		return nil, fmt.Errorf("session: NATS local identity is required")
	}
	if options.Peer.IsZero() {
		return nil, fmt.Errorf("session: NATS peer identity is required")
	}
	if options.Compression == "" {
		options.Compression = "auto"
	}
	if options.Compression != "auto" {
		if _, err := compress.ParseTag(options.Compression); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}
	if options.URL == "" {
		options.URL = nats.DefaultURL
	}
	if options.SubjectPrefix == "" {
		options.SubjectPrefix = DefaultSubjectPrefix
	}

	local := options.Local
	if local.IsBare() {
		local = local.WithResource(GenerateResource())
	}
	if options.Name == "" {
		options.Name = local.String()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("local_id", local.String())

	session := &NATS{
		local:       local,
		peer:        options.Peer,
		peerSubject: MessageSubject(options.SubjectPrefix, options.Peer, local),
		compression: options.Compression,
		clock:       options.Clock,
		logger:      logger,
		incoming:    make(chan Message, incomingBuffer),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}

	natsOptions := []nats.Option{
		nats.Name(options.Name),
		nats.ClosedHandler(session.handleClosed),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS connection lost", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("NATS connection restored", "server", conn.ConnectedUrl())
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		natsOptions = append(natsOptions, nats.Timeout(time.Until(deadline)))
	}
	if options.Password != nil {
		natsOptions = append(natsOptions, nats.UserInfo(local.Bare().String(), options.Password.String()))
	}
	natsOptions = append(natsOptions, options.ExtraOptions...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := nats.Connect(options.URL, natsOptions...)
	if err != nil {
		return nil, fmt.Errorf("session: connecting to NATS at %s: %w", options.URL, err)
	}
	session.conn = conn

	inbox := SubscribePermission(options.SubjectPrefix, local)
	subscription, err := conn.Subscribe(inbox, session.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: subscribing to %s: %w", inbox, err)
	}
	session.subscription = subscription
	if err := conn.FlushWithContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: confirming subscription: %w", err)
	}

	logger.Info("NATS session established",
		"server", conn.ConnectedUrl(),
		"inbox", inbox,
		"peer", options.Peer.String(),
	)
	return session, nil
}

// Send publishes body to the peer's inbox.
func (n *NATS) Send(ctx context.Context, body string) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}

	message, err := n.buildMessage([]byte(body))
	if err != nil {
		return err
	}
	if err := n.conn.PublishMsg(message); err != nil {
		return fmt.Errorf("session: publishing to %s: %w", n.peer, err)
	}
	return nil
}

// buildMessage wraps body in an envelope addressed to the peer.
func (n *NATS) buildMessage(body []byte) (*nats.Msg, error) {
	var (
		payload []byte
		tag     compress.Tag
		err     error
	)
	if n.compression == "auto" {
		payload, tag, err = compress.Auto(body)
	} else {
		tag, _ = compress.ParseTag(n.compression)
		payload, tag, err = compress.WithFallback(body, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("session: compressing message: %w", err)
	}

	encoded, err := codec.Marshal(envelope{
		From:        n.local,
		To:          n.peer,
		Body:        payload,
		Compression: tag,
		Size:        len(body),
		Sent:        n.clock.Now().UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("session: encoding envelope: %w", err)
	}

	message := nats.NewMsg(n.peerSubject)
	message.Header.Set(nats.MsgIdHdr, uuid.NewString())
	message.Data = encoded
	return message, nil
}

// handleMessage runs on the NATS delivery goroutine.
func (n *NATS) handleMessage(message *nats.Msg) {
	inbound, ok, err := n.decode(message.Subject, message.Data)
	if err != nil {
		attributes := []any{
			"subject", message.Subject,
			"message_id", message.Header.Get(nats.MsgIdHdr),
			"error", err,
		}
		if diagnostic, diagnoseErr := codec.Diagnose(message.Data); diagnoseErr == nil {
			attributes = append(attributes, "payload", diagnostic)
		}
		n.logger.Warn("dropping undecodable NATS message", attributes...)
		return
	}
	if !ok {
		return
	}
	select {
	case n.incoming <- inbound:
	case <-n.closing:
	}
}

// decode returns the Message carried by data, received on subject. ok
// is false for envelopes addressed to another resource of this
// identity.
func (n *NATS) decode(subject string, data []byte) (Message, bool, error) {
	var decoded envelope
	if err := codec.Unmarshal(data, &decoded); err != nil {
		return Message{}, false, err
	}
	if decoded.From.IsZero() {
		return Message{}, false, errors.New("envelope has no sender")
	}
	senderToken := subject[strings.LastIndexByte(subject, '.')+1:]
	if senderToken != IdentityToken(decoded.From) {
		return Message{}, false, fmt.Errorf("sender %s does not match subject %s", decoded.From, subject)
	}
	if !decoded.To.IsBare() && decoded.To.Resource() != n.local.Resource() {
		return Message{}, false, nil
	}
	body, err := compress.Decompress(decoded.Body, decoded.Compression, decoded.Size)
	if err != nil {
		return Message{}, false, err
	}
	return Message{
		From:    decoded.From.String(),
		Body:    string(body),
		Delayed: decoded.Delay != 0,
	}, true, nil
}

func (n *NATS) handleClosed(conn *nats.Conn) {
	n.mu.Lock()
	if !n.closed {
		n.err = conn.LastError()
		if n.err == nil {
			n.err = nats.ErrConnectionClosed
		}
	}
	n.mu.Unlock()
	n.closeOnce.Do(func() { close(n.done) })
}

func (n *NATS) Receive() <-chan Message { return n.incoming }

func (n *NATS) Done() <-chan struct{} { return n.done }

func (n *NATS) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

func (n *NATS) LocalID() string { return n.local.String() }

// Close drains the subscription and the connection.
func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	close(n.closing)
	if n.conn == nil {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("session: draining NATS connection: %w", err)
	}
	return nil
}
