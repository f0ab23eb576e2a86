// Package chat is a small application core that runs on top of the bridge: every message
// received from one member is broadcast to all of them.
package chat

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tonkeeper/wsbridge/internal/models"
	"github.com/tonkeeper/wsbridge/internal/ports"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// QuitMessage makes the room close the sender.
const QuitMessage = "/quit"

type Room struct {
	ports *ports.MemPorts

	mu      sync.RWMutex
	members map[string]models.Event
}

func NewRoom(p *ports.MemPorts) *Room {
	return &Room{
		ports:   p,
		members: make(map[string]models.Event),
	}
}

// Run consumes events until ctx is done or the ports are closed.
func (r *Room) Run(ctx context.Context) {
	log := log.WithField("prefix", "Room.Run")
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ports.Done():
			return
		case event := <-r.ports.Events():
			if err := r.handle(ctx, event); err != nil {
				if errors.Is(err, ports.ErrClosed) || ctx.Err() != nil {
					return
				}
				log.Warnf("failed to handle %s from %s: %v", event.Type, event.ID, err)
			}
		}
	}
}

// Members returns the identities currently in the room, sorted.
func (r *Room) Members() []string {
	r.mu.RLock()
	ids := maps.Keys(r.members)
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Room) handle(ctx context.Context, event models.Event) error {
	switch event.Type {
	case models.EventConnect:
		r.mu.Lock()
		r.members[event.ID] = event
		r.mu.Unlock()
		return nil
	case models.EventDisconnect:
		r.mu.Lock()
		delete(r.members, event.ID)
		r.mu.Unlock()
		return nil
	case models.EventReceive:
		if event.Message == QuitMessage {
			return r.ports.Send(ctx, models.Close(event.ID))
		}
		var errs []error
		for _, id := range r.Members() {
			if err := r.ports.Send(ctx, models.Send(id, event.Message)); err != nil {
				if errors.Is(err, ports.ErrClosed) {
					return err
				}
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	default:
		return nil
	}
}
