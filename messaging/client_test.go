// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bureau-foundation/linebridge/lib/secret"
)

// testBuffer creates a secret.Buffer closed when the test completes.
func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}

func writeMatrixError(writer http.ResponseWriter, status int, code, message string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(map[string]string{"errcode": code, "error": message})
}

func assertAuth(t *testing.T, request *http.Request, token string) {
	t.Helper()
	if got := request.Header.Get("Authorization"); got != "Bearer "+token {
		t.Errorf("Authorization = %q, want bearer %q", got, token)
	}
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:6167"}); err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	for _, bad := range []string{"", "://invalid", "ftp://example.org"} {
		if _, err := NewClient(ClientConfig{HomeserverURL: bad}); err == nil {
			t.Errorf("NewClient(%q) succeeded", bad)
		}
	}
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.Method != http.MethodPost || request.URL.Path != "/_matrix/client/v3/login" {
				t.Errorf("unexpected request: %s %s", request.Method, request.URL.Path)
			}
			if request.Header.Get("Authorization") != "" {
				t.Error("login request carried an Authorization header")
			}
			var body LoginRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Fatalf("decoding login body: %v", err)
			}
			if body.Type != "m.login.password" || body.Password != "pw" {
				t.Errorf("unexpected login body: %+v", body)
			}
			if body.Identifier == nil || body.Identifier.Type != "m.id.user" || body.Identifier.User != "alice" {
				t.Errorf("unexpected identifier: %+v", body.Identifier)
			}
			if body.InitialDeviceDisplayName != DeviceDisplayName {
				t.Errorf("device display name = %q", body.InitialDeviceDisplayName)
			}
			writeJSON(writer, AuthResponse{UserID: "@alice:example.org", AccessToken: "syt_token", DeviceID: "DEV1"})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL + "/"})
		if err != nil {
			t.Fatal(err)
		}
		session, err := client.Login(context.Background(), "alice", testBuffer(t, "pw"))
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		defer session.Close()
		if session.UserID() != "@alice:example.org" || session.DeviceID() != "DEV1" {
			t.Errorf("session = (%q, %q)", session.UserID(), session.DeviceID())
		}
	})

	t.Run("forbidden", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writeMatrixError(writer, http.StatusForbidden, ErrCodeForbidden, "Invalid password")
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatal(err)
		}
		_, err = client.Login(context.Background(), "alice", testBuffer(t, "wrong"))
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Fatalf("Login error = %v, want M_FORBIDDEN", err)
		}
		if !IsPermanent(err) {
			t.Error("M_FORBIDDEN should be permanent")
		}
		var matrixErr *MatrixError
		if !errors.As(err, &matrixErr) || matrixErr.StatusCode != http.StatusForbidden {
			t.Errorf("MatrixError = %+v", matrixErr)
		}
	})

	t.Run("missing arguments", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := client.Login(context.Background(), "", testBuffer(t, "pw")); err == nil {
			t.Error("expected error for empty username")
		}
		if _, err := client.Login(context.Background(), "alice", nil); err == nil {
			t.Error("expected error for nil password")
		}
	})
}

func TestDoRequest_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
		writer.Write([]byte("<html>upstream down</html>"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.doRequest(context.Background(), http.MethodGet, "/x", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		t.Fatalf("non-JSON body produced MatrixError %+v", matrixErr)
	}
	if IsPermanent(err) {
		t.Error("a 502 without a Matrix body should be transient")
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&MatrixError{Code: ErrCodeUnknownToken, StatusCode: 401}, true},
		{&MatrixError{Code: ErrCodeLimitExceeded, StatusCode: 429}, false},
		{&MatrixError{Code: ErrCodeUnknown, StatusCode: 500}, false},
		{errors.New("connection refused"), false},
	}
	for _, test := range tests {
		if got := IsPermanent(test.err); got != test.want {
			t.Errorf("IsPermanent(%v) = %v, want %v", test.err, got, test.want)
		}
	}
}
