package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrSocketClosed = errors.New("socket closed")

// Socket wraps an upgraded gorilla connection. Reads must come from a single goroutine;
// writes and Close may be called from any goroutine.
type Socket struct {
	conn         *websocket.Conn
	host         string
	requestURI   string
	writeTimeout time.Duration
	pingInterval time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

// onClose, when set, runs once after the connection is closed.
func newSocket(conn *websocket.Conn, host, requestURI string, opts Options, onClose func()) *Socket {
	s := &Socket{
		conn:         conn,
		host:         host,
		requestURI:   requestURI,
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		done:         make(chan struct{}),
		onClose:      onClose,
	}
	if opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	if opts.PingInterval > 0 {
		pongWait := 2 * opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go s.keepalive()
	}
	return s
}

func (s *Socket) Host() string {
	return s.host
}

func (s *Socket) RequestURI() string {
	return s.requestURI
}

// ReadMessage returns the next text or binary frame as a string.
func (s *Socket) ReadMessage() (string, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteMessage sends payload as a single text frame.
func (s *Socket) WriteMessage(payload string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Close sends a normal closure frame when possible and closes the connection. Safe to call repeatedly.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

func (s *Socket) keepalive() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
		}
	}
}
