package bridge

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tonkeeper/wsbridge/internal/location"
)

type outboxItem struct {
	payload string
	close   bool
}

// Connection is the per-socket context owned by the bridge from accept to teardown.
type Connection struct {
	ID       string
	Location location.Location

	socket Socket
	outbox chan outboxItem
	done   chan struct{}
	once   sync.Once
}

func newConnection(id string, loc location.Location, socket Socket, outboxSize int) *Connection {
	if outboxSize <= 0 {
		outboxSize = 1
	}
	return &Connection{
		ID:       id,
		Location: loc,
		socket:   socket,
		outbox:   make(chan outboxItem, outboxSize),
		done:     make(chan struct{}),
	}
}

// enqueueSend queues a payload for the writer. It never blocks; false means the payload was dropped.
func (c *Connection) enqueueSend(payload string) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- outboxItem{payload: payload}:
		return true
	default:
		return false
	}
}

// enqueueClose closes the socket after the payloads already queued.
// With a full outbox the socket is closed right away.
func (c *Connection) enqueueClose() {
	select {
	case c.outbox <- outboxItem{close: true}:
	default:
		_ = c.socket.Close()
	}
}

// writeLoop drains the outbox until teardown. Write errors are expected when a command
// races with a closing socket and are dropped.
func (c *Connection) writeLoop() {
	log := log.WithField("prefix", "Connection.writeLoop")
	for {
		select {
		case <-c.done:
			return
		case item := <-c.outbox:
			if item.close {
				_ = c.socket.Close()
				continue
			}
			if err := c.socket.WriteMessage(item.payload); err != nil {
				failedSendsMetric.Inc()
				log.Debugf("write to %s discarded: %v", c.ID, err)
			}
		}
	}
}
