// Package ws accepts WebSocket upgrades and hands the resulting sockets to the bridge.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/tonkeeper/wsbridge/internal/bridge"
	"github.com/tonkeeper/wsbridge/internal/middleware"
	"github.com/tonkeeper/wsbridge/internal/utils"
)

type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	// MaxMessageSize limits inbound frames; 0 means no limit.
	MaxMessageSize int64
	WriteTimeout   time.Duration
	// PingInterval enables keepalive pings. A peer that stops answering is dropped
	// after two intervals. 0 disables keepalive.
	PingInterval time.Duration
	// AcceptQueue is how many upgraded sockets may wait for Accept.
	AcceptQueue int
	// AllowedOrigins restricts the Origin header. Empty allows every origin.
	AllowedOrigins []string
}

// Listener is an http.Handler that upgrades requests and queues the sockets for Accept.
type Listener struct {
	upgrader websocket.Upgrader
	opts     Options
	accepted chan *Socket
	closed   chan struct{}
	mu       sync.Mutex
	isClosed bool
	inflight sync.WaitGroup
}

func NewListener(opts Options) *Listener {
	if opts.AcceptQueue <= 0 {
		opts.AcceptQueue = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	l := &Listener{
		opts:     opts,
		accepted: make(chan *Socket, opts.AcceptQueue),
		closed:   make(chan struct{}),
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return utils.OriginAllowed(r.Header.Get("Origin"), opts.AllowedOrigins)
		},
	}
	return l
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := log.WithField("prefix", "Listener.ServeHTTP")

	l.mu.Lock()
	if l.isClosed {
		l.mu.Unlock()
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	}
	l.inflight.Add(1)
	l.mu.Unlock()
	defer l.inflight.Done()

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the error response
		log.Debugf("upgrade failed: %v", err)
		return
	}
	var onClose func()
	if lease := middleware.LeaseFromContext(r.Context()); lease != nil {
		onClose = lease.Detach()
	}
	socket := newSocket(conn, r.Host, r.RequestURI, l.opts, onClose)

	select {
	case l.accepted <- socket:
	case <-l.closed:
		_ = socket.Close()
	case <-r.Context().Done():
		_ = socket.Close()
	}
}

// Handler adapts the listener to an echo route.
func (l *Listener) Handler(c echo.Context) error {
	l.ServeHTTP(c.Response(), c.Request())
	return nil
}

// Accept returns the next upgraded socket.
func (l *Listener) Accept(ctx context.Context) (bridge.Socket, error) {
	select {
	case socket := <-l.accepted:
		return socket, nil
	case <-l.closed:
		return nil, bridge.ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close refuses further upgrades and closes sockets nobody accepted yet.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.isClosed {
		l.mu.Unlock()
		return nil
	}
	l.isClosed = true
	close(l.closed)
	l.mu.Unlock()

	l.inflight.Wait()
	for {
		select {
		case socket := <-l.accepted:
			_ = socket.Close()
		default:
			return nil
		}
	}
}
