package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tonkeeper/wsbridge/internal/bridge"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func acceptOne(t *testing.T, l *Listener) bridge.Socket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	socket, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	return socket
}

func TestListener_AcceptAndExchange(t *testing.T) {
	l := NewListener(Options{})
	srv := httptest.NewServer(l)
	defer srv.Close()
	defer l.Close()

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/room?x=1"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	socket := acceptOne(t, l)
	if socket.Host() != strings.TrimPrefix(srv.URL, "http://") {
		t.Errorf("Host() = %q", socket.Host())
	}
	if socket.RequestURI() != "/room?x=1" {
		t.Errorf("RequestURI() = %q", socket.RequestURI())
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
		t.Fatal(err)
	}
	got, err := socket.ReadMessage()
	if err != nil || got != "hi" {
		t.Fatalf("ReadMessage() = %q, %v", got, err)
	}

	if err := socket.WriteMessage("yo"); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil || string(data) != "yo" {
		t.Fatalf("client read = %q, %v", data, err)
	}
}

func TestSocket_Close(t *testing.T) {
	l := NewListener(Options{})
	srv := httptest.NewServer(l)
	defer srv.Close()
	defer l.Close()

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()
	socket := acceptOne(t, l)

	if err := socket.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_ = socket.Close()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("client read error = %v, want normal closure", err)
	}

	if err := socket.WriteMessage("late"); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("WriteMessage() after close = %v, want ErrSocketClosed", err)
	}
	if _, err := socket.ReadMessage(); err == nil {
		t.Error("ReadMessage() after close should fail")
	}
}

func TestSocket_PeerCloseEndsRead(t *testing.T) {
	l := NewListener(Options{})
	srv := httptest.NewServer(l)
	defer srv.Close()
	defer l.Close()

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	socket := acceptOne(t, l)

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	client.Close()

	if _, err := socket.ReadMessage(); err == nil {
		t.Error("ReadMessage() should fail after peer close")
	}
}

func TestListener_Close(t *testing.T) {
	l := NewListener(Options{})
	srv := httptest.NewServer(l)
	defer srv.Close()

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := l.Accept(context.Background()); !errors.Is(err, bridge.ErrListenerClosed) {
		t.Errorf("Accept() error = %v, want ErrListenerClosed", err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err == nil {
		t.Fatal("Dial() should fail after Close")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}

func TestListener_AcceptHonoursContext(t *testing.T) {
	l := NewListener(Options{})
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Accept() error = %v, want deadline exceeded", err)
	}
}

func TestListener_RejectsOrigin(t *testing.T) {
	l := NewListener(Options{AllowedOrigins: []string{"https://app.example"}})
	srv := httptest.NewServer(l)
	defer srv.Close()
	defer l.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), header)
	if err == nil {
		t.Fatal("Dial() should fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	header.Set("Origin", "https://app.example")
	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), header)
	if err != nil {
		t.Fatalf("Dial() with allowed origin error = %v", err)
	}
	client.Close()
}

func TestSocket_ReadLimit(t *testing.T) {
	l := NewListener(Options{MaxMessageSize: 8})
	srv := httptest.NewServer(l)
	defer srv.Close()
	defer l.Close()

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()
	socket := acceptOne(t, l)

	_ = client.WriteMessage(websocket.TextMessage, []byte("this is longer than eight bytes"))
	if _, err := socket.ReadMessage(); err == nil {
		t.Error("ReadMessage() should fail for oversized frame")
	}
}
