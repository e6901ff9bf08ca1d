// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/linebridge/lib/clock"
	"github.com/bureau-foundation/linebridge/lib/jid"
	"github.com/bureau-foundation/linebridge/lib/secret"
	"github.com/bureau-foundation/linebridge/messaging"
)

// Compile-time interface check.
var _ Session = (*Matrix)(nil)

const (
	defaultSyncTimeout      = 30 * time.Second
	defaultRetryInterval    = time.Second
	defaultMaxRetryInterval = 30 * time.Second
)

// timelineFilter limits /sync to message events in joined rooms.
const timelineFilter = `{"room":{"timeline":{"types":["m.room.message"]},"state":{"lazy_load_members":true}},"presence":{"not_types":["*"]},"account_data":{"not_types":["*"]}}`

// ErrLeftRoom terminates a Matrix session whose user is no longer a
// member of the bridged room.
var ErrLeftRoom = errors.New("session: no longer joined to the room")

// MatrixOptions configures DialMatrix.
type MatrixOptions struct {
	// HomeserverURL is the client-server API base URL. Default:
	// "https://" followed by the domain of Local.
	HomeserverURL string

	// Room is the room ID or alias both parties have joined.
	Room string

	// Local is this session's identity. Its local part is the Matrix
	// login name.
	Local jid.JID

	// Password is the login password. Read, not closed.
	Password *secret.Buffer

	// SyncTimeout is the /sync long-poll duration. Default: 30s.
	SyncTimeout time.Duration

	// RetryInterval is the first delay after a failed sync; it doubles
	// up to MaxRetryInterval. Defaults: 1s and 30s.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	// HTTPClient is passed to the messaging client.
	HTTPClient *http.Client

	// Clock times retry backoff. Default: clock.Real().
	Clock clock.Clock

	// Logger receives sync and retry events. Default: slog.Default().
	Logger *slog.Logger
}

// Matrix is a Session that bridges lines through one Matrix room.
// Senders are reported as bare identifiers (local@server) since room
// events do not name the sending device.
type Matrix struct {
	client  *messaging.DirectSession
	roomID  string
	localID string
	options MatrixOptions
	logger  *slog.Logger

	incoming chan Message
	done     chan struct{}
	cancel   context.CancelFunc
	stopped  chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

// DialMatrix logs in, joins the room, performs the catch-up sync, and
// starts the sync loop. Messages found by the catch-up sync are
// delivered as delayed.
func DialMatrix(ctx context.Context, options MatrixOptions) (*Matrix, error) {
	if options.Local.IsZero() {
		return nil, fmt.Errorf("session: Matrix local identity is required")
	}
	if options.Room == "" {
		return nil, fmt.Errorf("session: Matrix room is required")
	}
	if options.Password == nil {
		return nil, fmt.Errorf("session: Matrix password is required")
	}
	if options.HomeserverURL == "" {
		options.HomeserverURL = "https://" + options.Local.Domain()
	}
	if options.SyncTimeout <= 0 {
		options.SyncTimeout = defaultSyncTimeout
	}
	if options.RetryInterval <= 0 {
		options.RetryInterval = defaultRetryInterval
	}
	if options.MaxRetryInterval < options.RetryInterval {
		options.MaxRetryInterval = max(defaultMaxRetryInterval, options.RetryInterval)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: options.HomeserverURL,
		HTTPClient:    options.HTTPClient,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	direct, err := client.Login(ctx, options.Local.Local(), options.Password)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	roomID, err := direct.JoinRoom(ctx, options.Room)
	if err != nil {
		direct.Close()
		return nil, fmt.Errorf("session: %w", err)
	}

	localID := options.Local.Bare()
	if resource := options.Local.Resource(); resource != "" {
		localID = localID.WithResource(resource)
	} else if direct.DeviceID() != "" {
		localID = localID.WithResource(direct.DeviceID())
	} else {
		localID = localID.WithResource(GenerateResource())
	}
	logger = logger.With("local_id", localID.String(), "room_id", roomID)

	session := &Matrix{
		client:   direct,
		roomID:   roomID,
		localID:  localID.String(),
		options:  options,
		logger:   logger,
		incoming: make(chan Message, incomingBuffer),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	initial, err := direct.Sync(ctx, messaging.SyncOptions{SetTimeout: true, Filter: timelineFilter})
	if err != nil {
		direct.Close()
		return nil, fmt.Errorf("session: catch-up sync: %w", err)
	}
	pending := session.collect(initial, true)

	loopContext, cancel := context.WithCancel(context.Background())
	session.cancel = cancel
	go session.syncLoop(loopContext, initial.NextBatch, pending)

	logger.Info("Matrix session established", "user_id", direct.UserID(), "delayed", len(pending))
	return session, nil
}

// Send posts body as an m.text message to the room.
func (m *Matrix) Send(ctx context.Context, body string) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if _, err := m.client.SendMessage(ctx, m.roomID, messaging.NewTextMessage(body)); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// syncLoop delivers pending, then long-polls until cancelled or a
// permanent error.
func (m *Matrix) syncLoop(ctx context.Context, since string, pending []Message) {
	defer close(m.stopped)

	if !m.deliver(ctx, pending) {
		return
	}

	backoff := m.options.RetryInterval
	for {
		response, err := m.client.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    int(m.options.SyncTimeout / time.Millisecond),
			SetTimeout: true,
			Filter:     timelineFilter,
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if messaging.IsPermanent(err) {
				m.terminate(err)
				return
			}
			m.logger.Warn("sync failed, retrying", "error", err, "backoff", backoff)
			m.client.CloseIdleConnections()
			select {
			case <-m.options.Clock.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, m.options.MaxRetryInterval)
			continue
		}
		backoff = m.options.RetryInterval
		since = response.NextBatch

		if _, left := response.Rooms.Leave[m.roomID]; left {
			m.terminate(ErrLeftRoom)
			return
		}
		if !m.deliver(ctx, m.collect(response, false)) {
			return
		}
	}
}

// collect extracts the messages for the bridged room from one sync
// response. Events carrying a transaction ID are echoes of this
// device's own sends and are skipped.
func (m *Matrix) collect(response *messaging.SyncResponse, delayed bool) []Message {
	room, ok := response.Rooms.Join[m.roomID]
	if !ok {
		return nil
	}
	var messages []Message
	for _, event := range room.Timeline.Events {
		if event.Type != "m.room.message" || event.StateKey != nil {
			continue
		}
		if event.Unsigned != nil && event.Unsigned.TransactionID != "" {
			continue
		}
		msgtype, _ := event.Content["msgtype"].(string)
		if msgtype != "m.text" && msgtype != "m.notice" {
			continue
		}
		body, _ := event.Content["body"].(string)
		from, ok := UserIDToJID(event.Sender)
		if !ok {
			m.logger.Debug("ignoring event from malformed sender", "sender", event.Sender)
			continue
		}
		messages = append(messages, Message{From: from, Body: body, Delayed: delayed})
	}
	return messages
}

func (m *Matrix) deliver(ctx context.Context, messages []Message) bool {
	for _, message := range messages {
		select {
		case m.incoming <- message:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (m *Matrix) terminate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		m.err = err
		close(m.done)
	}
}

// UserIDToJID converts a Matrix user ID ("@local:server") to a bare
// identifier ("local@server").
func UserIDToJID(userID string) (string, bool) {
	rest, ok := strings.CutPrefix(userID, "@")
	if !ok {
		return "", false
	}
	local, server, ok := strings.Cut(rest, ":")
	if !ok || local == "" || server == "" {
		return "", false
	}
	return local + "@" + server, true
}

func (m *Matrix) Receive() <-chan Message { return m.incoming }

func (m *Matrix) Done() <-chan struct{} { return m.done }

func (m *Matrix) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Matrix) LocalID() string { return m.localID }

// Close stops the sync loop and releases the access token.
func (m *Matrix) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	<-m.stopped
	return m.client.Close()
}
