package bridge

import (
	"context"
	"errors"

	"github.com/tonkeeper/wsbridge/internal/models"
)

// ErrListenerClosed is returned by Listener.Accept once the listener stopped handing out sockets.
var ErrListenerClosed = errors.New("listener closed")

// Socket is an accepted, already upgraded, message oriented connection.
// ReadMessage returning an error means the socket is closed or broken;
// the bridge does not distinguish the two.
type Socket interface {
	Host() string
	RequestURI() string
	ReadMessage() (string, error)
	WriteMessage(payload string) error
	Close() error
}

// Listener hands out accepted sockets.
type Listener interface {
	Accept(ctx context.Context) (Socket, error)
}

// Input is the bridge side of the event channel.
type Input interface {
	Emit(ctx context.Context, event models.Event) error
}

// Output is the bridge side of the command channel.
type Output interface {
	Commands() <-chan models.Command
}
