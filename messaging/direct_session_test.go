// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestSession creates a DirectSession pointing at a test server.
func newTestSession(t *testing.T, handler http.Handler) *DirectSession {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.SessionFromToken("@test:local", "test-token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestWhoAmI(t *testing.T) {
	session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.URL.Path != "/_matrix/client/v3/account/whoami" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writeJSON(writer, WhoAmIResponse{UserID: "@test:local", DeviceID: "DEV1"})
	}))

	userID, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI failed: %v", err)
	}
	if userID != "@test:local" {
		t.Errorf("unexpected user ID: %s", userID)
	}
}

func TestJoinRoom(t *testing.T) {
	session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if !strings.Contains(request.URL.EscapedPath(), "%23ops") {
			t.Errorf("alias not escaped: %s", request.URL.EscapedPath())
		}
		if request.URL.Path != "/_matrix/client/v3/join/#ops:local" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writeJSON(writer, map[string]string{"room_id": "!room1:local"})
	}))

	roomID, err := session.JoinRoom(context.Background(), "#ops:local")
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if roomID != "!room1:local" {
		t.Errorf("unexpected room ID: %s", roomID)
	}
}

func TestSendMessage(t *testing.T) {
	transactionIDs := make(map[string]bool)
	session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", request.Method)
		}
		prefix := "/_matrix/client/v3/rooms/!room1:local/send/m.room.message/"
		if !strings.HasPrefix(request.URL.Path, prefix) {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		transactionID := strings.TrimPrefix(request.URL.Path, prefix)
		if !strings.HasPrefix(transactionID, "linebridge-") || transactionIDs[transactionID] {
			t.Errorf("bad or duplicate transaction ID %q", transactionID)
		}
		transactionIDs[transactionID] = true

		var body MessageContent
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode message: %v", err)
		}
		if body.MsgType != "m.text" || body.Body != "hello world" {
			t.Errorf("unexpected content: %+v", body)
		}
		writeJSON(writer, SendEventResponse{EventID: "$event1"})
	}))

	for range 3 {
		eventID, err := session.SendMessage(context.Background(), "!room1:local", NewTextMessage("hello world"))
		if err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
		if eventID != "$event1" {
			t.Errorf("unexpected event ID: %s", eventID)
		}
	}
	if len(transactionIDs) != 3 {
		t.Errorf("expected 3 unique transaction IDs, got %d", len(transactionIDs))
	}
}

func TestSync(t *testing.T) {
	session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		query := request.URL.Query()
		if query.Get("since") != "s123" || query.Get("timeout") != "0" || query.Get("filter") != `{"room":{}}` {
			t.Errorf("unexpected query: %v", query)
		}
		writeJSON(writer, SyncResponse{
			NextBatch: "s456",
			Rooms: RoomsSection{
				Join: map[string]JoinedRoom{
					"!room1:local": {Timeline: TimelineSection{Events: []Event{
						{EventID: "$evt1", Type: "m.room.message", Sender: "@alice:local",
							Content: map[string]any{"msgtype": "m.text", "body": "hi"}},
					}}},
				},
			},
		})
	}))

	response, err := session.Sync(context.Background(), SyncOptions{
		Since:      "s123",
		SetTimeout: true,
		Filter:     `{"room":{}}`,
	})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if response.NextBatch != "s456" {
		t.Errorf("unexpected next_batch: %s", response.NextBatch)
	}
	room, ok := response.Rooms.Join["!room1:local"]
	if !ok || len(room.Timeline.Events) != 1 {
		t.Fatalf("unexpected rooms: %+v", response.Rooms)
	}
	if room.Timeline.Events[0].Content["body"] != "hi" {
		t.Errorf("event content = %v", room.Timeline.Events[0].Content)
	}
}

func TestSessionClose_Idempotent(t *testing.T) {
	session := newTestSession(t, http.NotFoundHandler())
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
