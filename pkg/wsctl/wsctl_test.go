package wsctl

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Calbabreaker/micap/internal/config"
	"github.com/Calbabreaker/micap/pkg/registry"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s, err := New(zerolog.Nop(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	// Give the listener's Serve goroutine a moment to start accepting.
	time.Sleep(20 * time.Millisecond)
	return s, s.Addr()
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSecondConnectionIsRefused(t *testing.T) {
	_, addr := startTestServer(t)

	first := dial(t, addr)
	defer first.Close()
	time.Sleep(20 * time.Millisecond)

	_, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err == nil {
		t.Fatal("expected second connection attempt to be refused")
	}
}

func TestInitialStateAndBurstFlush(t *testing.T) {
	s, addr := startTestServer(t)
	conn := dial(t, addr)
	time.Sleep(20 * time.Millisecond)

	tr := registry.NewTracker("mac/0")
	s.SendInitialState(config.Default(), config.Default(), "", []*registry.Tracker{tr})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != typeInitialState {
		t.Fatalf("type = %q, want %q", env.Type, typeInitialState)
	}
}

func TestFlushIsNoOpWithoutConnection(t *testing.T) {
	s, err := New(zerolog.Nop(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.QueueError("boom")
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush should be a silent no-op without a connection: %v", err)
	}
}

func TestParseInboundRemoveTracker(t *testing.T) {
	raw := []byte(`{"type":"RemoveTracker","data":{"id":"mac/0"}}`)
	cmd, err := parseInbound(raw)
	if err != nil {
		t.Fatalf("parseInbound: %v", err)
	}
	if cmd.Kind != "RemoveTracker" || cmd.RemoveTrackerID != "mac/0" {
		t.Fatalf("cmd = %+v, want RemoveTracker mac/0", cmd)
	}
}

func TestParseInboundSerialSend(t *testing.T) {
	raw := []byte(`{"type":"SerialSend","data":{"data":"aGVsbG8="}}`)
	cmd, err := parseInbound(raw)
	if err != nil {
		t.Fatalf("parseInbound: %v", err)
	}
	if string(cmd.SerialSendData) != "hello" {
		t.Fatalf("data = %q, want hello", cmd.SerialSendData)
	}
}

func TestParseInboundUnknownType(t *testing.T) {
	if _, err := parseInbound([]byte(`{"type":"Bogus","data":{}}`)); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestInboundCommandDeliveredOnChannel(t *testing.T) {
	s, addr := startTestServer(t)
	conn := dial(t, addr)
	time.Sleep(20 * time.Millisecond)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"RemoveTracker","data":{"id":"x"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cmd := <-s.Commands():
		if cmd.RemoveTrackerID != "x" {
			t.Fatalf("id = %q, want x", cmd.RemoveTrackerID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound command")
	}
}
