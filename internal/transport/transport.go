// Package transport carries room control messages between lobby clients.
// A room is a group channel; every member sees every message sent to it
// except its own.
package transport

import (
	"context"
	"errors"
)

var ErrNotJoined = errors.New("not in room")
var ErrClosed = errors.New("transport closed")

type EventKind int

const (
	EvMessage EventKind = iota
	EvJoined
	EvLeft
	EvKicked
	EvAnnounce
)

func (k EventKind) String() string {
	switch k {
	case EvJoined:
		return "joined"
	case EvLeft:
		return "left"
	case EvKicked:
		return "kicked"
	case EvAnnounce:
		return "announce"
	}
	return "message"
}

// Event is something that happened in a room. For EvKicked, Sender is the
// kicked member. EvAnnounce events carry a game advertisement and no room.
type Event struct {
	Kind   EventKind
	Room   string
	Sender string
	Text   string
}

// Transport is what a lobby needs from the chat layer. Send is fire and
// forget; delivery order within a room is the only guarantee.
type Transport interface {
	Name() string
	Join(ctx context.Context, room string) error
	Leave(ctx context.Context, room string) error
	Send(ctx context.Context, room, message string) error
	Kick(ctx context.Context, room, member string) error
	Announce(ctx context.Context, message string) error
	Members(room string) []string
	Events() <-chan Event
	Close() error
}
