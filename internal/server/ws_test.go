package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/glimmer/internal/light"
)

func dialFrames(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFrameHub_Broadcast(t *testing.T) {
	hub := NewFrameHub(nil)
	ts := httptest.NewServer(hub)
	defer ts.Close()

	first, second := dialFrames(t, ts.URL), dialFrames(t, ts.URL)
	defer first.Close()
	defer second.Close()
	waitFor(t, "two viewers", func() bool { return hub.Clients() == 2 })

	hub.Publish(light.Frame{{R: 1, G: 2, B: 3}, {R: 255}})

	for i, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("viewer %d: read: %v", i, err)
		}
		if kind != websocket.BinaryMessage {
			t.Errorf("viewer %d: expected a binary message, got %d", i, kind)
		}
		if string(msg) != string([]byte{1, 2, 3, 255, 0, 0}) {
			t.Errorf("viewer %d: unexpected payload %v", i, msg)
		}
	}
}

func TestFrameHub_Disconnect(t *testing.T) {
	hub := NewFrameHub(nil)
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialFrames(t, ts.URL)
	waitFor(t, "viewer", func() bool { return hub.Clients() == 1 })
	conn.Close()
	waitFor(t, "viewer to leave", func() bool { return hub.Clients() == 0 })

	hub.Publish(light.Frame{{R: 1}})
}

func TestFrameHub_SlowViewerDoesNotBlock(t *testing.T) {
	hub := NewFrameHub(nil)
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialFrames(t, ts.URL)
	defer conn.Close()
	waitFor(t, "viewer", func() bool { return hub.Clients() == 1 })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10*clientBuffer; i++ {
			hub.Publish(light.Frame{{R: uint8(i)}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on an unread viewer")
	}
}

func TestFrameHub_Close(t *testing.T) {
	hub := NewFrameHub(nil)
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialFrames(t, ts.URL)
	defer conn.Close()
	waitFor(t, "viewer", func() bool { return hub.Clients() == 1 })

	hub.Close()
	if hub.Clients() != 0 {
		t.Errorf("expected no viewers after Close, got %d", hub.Clients())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected a going-away close, got %v", err)
	}
}
