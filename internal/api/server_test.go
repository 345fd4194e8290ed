package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"loom/internal/bundler"
	"loom/internal/event"
	"loom/internal/logging"
	"loom/internal/prepare"
)

func newReadyBus(t *testing.T) *event.Bus[prepare.ReadyEvent] {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return event.NewBus[prepare.ReadyEvent](ctx, event.BusOptions{Name: "test_ready"})
}

func dialEvents(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v (resp %+v)", url, err, resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newEventsServer(t *testing.T, bus *event.Bus[prepare.ReadyEvent], token string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/events", &ReadyEventsHandler{
		Bus:       bus,
		Logger:    logging.NewLoggerWithOutput(logging.LevelError, nil),
		AuthToken: token,
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestEventsHandlerStreamsReadyPayloads(t *testing.T) {
	bus := newReadyBus(t)
	server := newEventsServer(t, bus, "")
	conn := dialEvents(t, server, nil)

	// Subscription races the dial; give the handler a beat to settle.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(prepare.ReadyEvent{
		Payload: prepare.ReadyPayload{
			Files:            []string{"/out/main.js"},
			HasNativeChanges: true,
			HMRData:          &bundler.HMRData{Hash: "abc"},
			Platform:         "ios",
		},
		OccurredAt: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var message readyMessage
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("read message: %v", err)
	}
	if message.Type != prepare.EventTypeReady {
		t.Fatalf("unexpected message type %q", message.Type)
	}
	if message.Payload.Platform != "ios" || !message.Payload.HasNativeChanges {
		t.Fatalf("unexpected payload %+v", message.Payload)
	}
	if message.Payload.HMRData == nil || message.Payload.HMRData.Hash != "abc" {
		t.Fatalf("unexpected hmr data %+v", message.Payload.HMRData)
	}
}

func TestEventsHandlerRejectsBadToken(t *testing.T) {
	bus := newReadyBus(t)
	server := newEventsServer(t, bus, "secret")

	resp, err := http.Get(server.URL + "/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestEventsHandlerAcceptsBearerToken(t *testing.T) {
	bus := newReadyBus(t)
	server := newEventsServer(t, bus, "secret")

	header := http.Header{}
	header.Set("Authorization", "Bearer secret")
	dialEvents(t, server, header)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	server := NewServer(ServerOptions{
		Addr:   "127.0.0.1:0",
		Logger: logging.NewLoggerWithOutput(logging.LevelError, nil),
	})

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", recorder.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder = httptest.NewRecorder()
	server.server.Handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", recorder.Code)
	}
}
