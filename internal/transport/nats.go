package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	hdrSender = "Lobby-Sender"
	hdrKind   = "Lobby-Kind"
	hdrTarget = "Lobby-Target"

	kindMsg   = "msg"
	kindJoin  = "join"
	kindHere  = "here"
	kindLeave = "leave"
	kindKick  = "kick"

	eventBuffer = 256
)

// NATS maps rooms onto subjects below a common prefix. Presence is announced
// by the members themselves: a joiner publishes join, everyone already in the
// room answers with here.
type NATS struct {
	nc     *nats.Conn
	name   string
	prefix string
	log    *zap.Logger

	mu       sync.Mutex
	closed   bool
	events   chan Event
	subs     map[string]*nats.Subscription
	members  map[string]map[string]bool
	announce *nats.Subscription
}

func DialNATS(url, name, prefix string, log *zap.Logger, opts ...nats.Option) (*NATS, error) {
	opts = append([]nats.Option{nats.Name(name), nats.NoEcho()}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	t := &NATS{
		nc:      nc,
		name:    name,
		prefix:  prefix,
		log:     log,
		events:  make(chan Event, eventBuffer),
		subs:    make(map[string]*nats.Subscription),
		members: make(map[string]map[string]bool),
	}
	sub, err := nc.Subscribe(t.announceSubject(), func(m *nats.Msg) {
		t.emit(Event{Kind: EvAnnounce, Sender: m.Header.Get(hdrSender), Text: string(m.Data)})
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribing to announcements: %w", err)
	}
	t.announce = sub
	return t, nil
}

func (t *NATS) Name() string { return t.name }

func (t *NATS) Events() <-chan Event { return t.events }

func (t *NATS) announceSubject() string { return t.prefix + ".announce" }

func (t *NATS) roomSubject(room string) string {
	return t.prefix + ".room." + room
}

func (t *NATS) Join(ctx context.Context, room string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, ok := t.subs[room]; ok {
		t.mu.Unlock()
		return nil
	}
	sub, err := t.nc.Subscribe(t.roomSubject(room), func(m *nats.Msg) { t.onRoomMsg(room, m) })
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("joining %s: %w", room, err)
	}
	t.subs[room] = sub
	t.members[room] = map[string]bool{t.name: true}
	t.mu.Unlock()

	// the subscription has to be live before anyone answers the join
	if err := t.nc.Flush(); err != nil {
		return fmt.Errorf("joining %s: %w", room, err)
	}
	return t.publish(ctx, room, kindJoin, "", nil)
}

func (t *NATS) Leave(ctx context.Context, room string) error {
	t.mu.Lock()
	sub, ok := t.subs[room]
	if ok {
		delete(t.subs, room)
		delete(t.members, room)
	}
	t.mu.Unlock()
	if !ok {
		return ErrNotJoined
	}

	err := t.publish(ctx, room, kindLeave, "", nil)
	if uerr := sub.Unsubscribe(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

func (t *NATS) Send(ctx context.Context, room, message string) error {
	if !t.joined(room) {
		return ErrNotJoined
	}
	return t.publish(ctx, room, kindMsg, "", []byte(message))
}

func (t *NATS) Kick(ctx context.Context, room, member string) error {
	if !t.joined(room) {
		return ErrNotJoined
	}
	return t.publish(ctx, room, kindKick, member, nil)
}

func (t *NATS) Announce(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(t.announceSubject())
	msg.Header.Set(hdrSender, t.name)
	msg.Data = []byte(message)
	return t.nc.PublishMsg(msg)
}

func (t *NATS) Members(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.members[room]))
	for name := range t.members[room] {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Close leaves every room and drains the connection.
func (t *NATS) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	rooms := make([]string, 0, len(t.subs))
	for room := range t.subs {
		rooms = append(rooms, room)
	}
	t.mu.Unlock()

	for _, room := range rooms {
		if err := t.Leave(context.Background(), room); err != nil {
			t.log.Debug("leaving room on close", zap.String("room", room), zap.Error(err))
		}
	}
	err := t.nc.Drain()

	t.mu.Lock()
	t.closed = true
	close(t.events)
	t.mu.Unlock()
	return err
}

func (t *NATS) joined(room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.subs[room]
	return ok
}

func (t *NATS) publish(ctx context.Context, room, kind, target string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(t.roomSubject(room))
	msg.Header.Set(hdrSender, t.name)
	msg.Header.Set(hdrKind, kind)
	if target != "" {
		msg.Header.Set(hdrTarget, target)
	}
	msg.Data = data
	if err := t.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", room, err)
	}
	return nil
}

// runs on the subscription's goroutine
func (t *NATS) onRoomMsg(room string, m *nats.Msg) {
	sender := m.Header.Get(hdrSender)
	if sender == "" || sender == t.name {
		return
	}

	switch m.Header.Get(hdrKind) {
	case kindMsg:
		t.emit(Event{Kind: EvMessage, Room: room, Sender: sender, Text: string(m.Data)})

	case kindJoin:
		t.addMember(room, sender)
		if err := t.publish(context.Background(), room, kindHere, "", nil); err != nil {
			t.log.Debug("answering join", zap.String("room", room), zap.Error(err))
		}

	case kindHere:
		t.addMember(room, sender)

	case kindLeave:
		t.mu.Lock()
		known := t.members[room][sender]
		delete(t.members[room], sender)
		t.mu.Unlock()
		if known {
			t.emit(Event{Kind: EvLeft, Room: room, Sender: sender})
		}

	case kindKick:
		t.emit(Event{Kind: EvKicked, Room: room, Sender: m.Header.Get(hdrTarget), Text: sender})

	default:
		t.log.Debug("unknown room message kind", zap.String("kind", m.Header.Get(hdrKind)))
	}
}

func (t *NATS) addMember(room, name string) {
	t.mu.Lock()
	members, ok := t.members[room]
	if !ok || members[name] {
		t.mu.Unlock()
		return
	}
	members[name] = true
	t.mu.Unlock()
	t.emit(Event{Kind: EvJoined, Room: room, Sender: name})
}

// emit never blocks. A consumer that stops reading loses events.
func (t *NATS) emit(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		t.log.Warn("dropping transport event", zap.Stringer("kind", ev.Kind), zap.String("room", ev.Room))
	}
}
