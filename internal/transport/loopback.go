package transport

import (
	"context"
	"slices"
	"sync"
)

// Bus is an in-process chat server. Every Loopback connected to it behaves
// like a NATS transport without the network.
type Bus struct {
	mu    sync.Mutex
	rooms map[string]map[string]*Loopback
	conns map[string]*Loopback
}

func NewBus() *Bus {
	return &Bus{
		rooms: make(map[string]map[string]*Loopback),
		conns: make(map[string]*Loopback),
	}
}

// Connect registers a member called name.
func (b *Bus) Connect(name string) *Loopback {
	l := &Loopback{bus: b, name: name, events: make(chan Event, eventBuffer)}
	b.mu.Lock()
	b.conns[name] = l
	b.mu.Unlock()
	return l
}

type Loopback struct {
	bus    *Bus
	name   string
	events chan Event

	mu     sync.Mutex
	closed bool
}

func (l *Loopback) Name() string { return l.name }

func (l *Loopback) Events() <-chan Event { return l.events }

func (l *Loopback) Join(_ context.Context, room string) error {
	b := l.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if l.isClosed() {
		return ErrClosed
	}
	members := b.rooms[room]
	if members == nil {
		members = make(map[string]*Loopback)
		b.rooms[room] = members
	}
	if members[l.name] != nil {
		return nil
	}
	for _, other := range members {
		other.deliver(Event{Kind: EvJoined, Room: room, Sender: l.name})
		l.deliver(Event{Kind: EvJoined, Room: room, Sender: other.name})
	}
	members[l.name] = l
	return nil
}

func (l *Loopback) Leave(_ context.Context, room string) error {
	b := l.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.rooms[room]
	if members[l.name] == nil {
		return ErrNotJoined
	}
	delete(members, l.name)
	for _, other := range members {
		other.deliver(Event{Kind: EvLeft, Room: room, Sender: l.name})
	}
	return nil
}

func (l *Loopback) Send(_ context.Context, room, message string) error {
	return l.toRoom(room, Event{Kind: EvMessage, Room: room, Sender: l.name, Text: message})
}

func (l *Loopback) Kick(_ context.Context, room, member string) error {
	return l.toRoom(room, Event{Kind: EvKicked, Room: room, Sender: member, Text: l.name})
}

func (l *Loopback) Announce(_ context.Context, message string) error {
	b := l.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, other := range b.conns {
		if name != l.name {
			other.deliver(Event{Kind: EvAnnounce, Sender: l.name, Text: message})
		}
	}
	return nil
}

func (l *Loopback) Members(room string) []string {
	b := l.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rooms[room][l.name] == nil {
		return nil
	}
	out := make([]string, 0, len(b.rooms[room]))
	for name := range b.rooms[room] {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (l *Loopback) Close() error {
	b := l.bus
	b.mu.Lock()
	for room, members := range b.rooms {
		if members[l.name] == nil {
			continue
		}
		delete(members, l.name)
		for _, other := range members {
			other.deliver(Event{Kind: EvLeft, Room: room, Sender: l.name})
		}
	}
	delete(b.conns, l.name)
	b.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	return nil
}

func (l *Loopback) toRoom(room string, ev Event) error {
	b := l.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.rooms[room]
	if members[l.name] == nil {
		return ErrNotJoined
	}
	for name, other := range members {
		if name != l.name {
			other.deliver(ev)
		}
	}
	return nil
}

func (l *Loopback) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loopback) deliver(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- ev:
	default:
	}
}
