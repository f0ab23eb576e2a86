package models

import "github.com/tonkeeper/wsbridge/internal/location"

type EventType string

const (
	EventConnect    EventType = "Connection"
	EventDisconnect EventType = "Disconnection"
	EventReceive    EventType = "Message"
)

// Event is emitted on the input channel for every lifecycle change or inbound payload of a connection.
type Event struct {
	Type     EventType         `json:"type"`
	ID       string            `json:"id"`
	Location location.Location `json:"location"`
	Message  string            `json:"message,omitempty"`
}

func Connect(id string, loc location.Location) Event {
	return Event{Type: EventConnect, ID: id, Location: loc}
}

func Disconnect(id string, loc location.Location) Event {
	return Event{Type: EventDisconnect, ID: id, Location: loc}
}

func Receive(id string, loc location.Location, message string) Event {
	return Event{Type: EventReceive, ID: id, Location: loc, Message: message}
}

type CommandType string

const (
	CommandClose CommandType = "Close"
	CommandSend  CommandType = "Message"
)

// Command is consumed from the output channel. Commands with an unknown type are ignored.
type Command struct {
	Type    CommandType `json:"type"`
	ID      string      `json:"id"`
	Message string      `json:"message,omitempty"`
}

func Close(id string) Command {
	return Command{Type: CommandClose, ID: id}
}

func Send(id, message string) Command {
	return Command{Type: CommandSend, ID: id, Message: message}
}
