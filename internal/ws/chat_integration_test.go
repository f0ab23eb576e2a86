package ws

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tonkeeper/wsbridge/internal/bridge"
	"github.com/tonkeeper/wsbridge/internal/chat"
	"github.com/tonkeeper/wsbridge/internal/ports"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/chat"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return string(data)
}

func TestChatOverBridge(t *testing.T) {
	channels := ports.NewMemPorts(16, 16, ports.OverflowBlock)
	room := chat.NewRoom(channels)
	roomCtx, stopRoom := context.WithCancel(context.Background())
	defer stopRoom()
	go room.Run(roomCtx)

	l := NewListener(Options{PingInterval: time.Second})
	srv := httptest.NewServer(l)
	defer srv.Close()
	b := bridge.Attach(l, channels, channels)

	alice := dial(t, srv)
	bob := dial(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for len(room.Members()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("members = %v, want two", room.Members())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := alice.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if got := readText(t, alice); got != "hello" {
		t.Errorf("alice got %q", got)
	}
	if got := readText(t, bob); got != "hello" {
		t.Errorf("bob got %q", got)
	}

	if err := bob.WriteMessage(websocket.TextMessage, []byte(chat.QuitMessage)); err != nil {
		t.Fatal(err)
	}
	_ = bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := bob.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("bob read after quit: %v, want normal closure", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for len(room.Members()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("members = %v, want only alice", room.Members())
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Stop()
	_ = l.Close()
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if b.Connections() != 0 {
		t.Errorf("Connections() = %d after shutdown", b.Connections())
	}
}
