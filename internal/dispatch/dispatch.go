// Package dispatch routes tagged control messages to typed handlers.
package dispatch

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type Arity int

const (
	ArityNone Arity = iota
	ArityInt
	ArityString
)

type handler struct {
	arity    Arity
	hostOnly bool
	none     func(sender string)
	num      func(sender string, v int)
	str      func(sender string, v string)
}

// Table maps a message tag to its handler. It is not safe for concurrent
// registration; lobbies fill it once at construction and then only read.
type Table struct {
	handlers map[string]handler
	host     func() string
	log      *zap.Logger
}

// New returns an empty table. host reports the current room host; host-only
// handlers drop messages from anyone else.
func New(host func() string, log *zap.Logger) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	return &Table{handlers: make(map[string]handler), host: host, log: log}
}

func (t *Table) RegisterNone(tag string, hostOnly bool, fn func(sender string)) {
	t.handlers[tag] = handler{arity: ArityNone, hostOnly: hostOnly, none: fn}
}

func (t *Table) RegisterInt(tag string, hostOnly bool, fn func(sender string, v int)) {
	t.handlers[tag] = handler{arity: ArityInt, hostOnly: hostOnly, num: fn}
}

func (t *Table) RegisterString(tag string, hostOnly bool, fn func(sender string, v string)) {
	t.handlers[tag] = handler{arity: ArityString, hostOnly: hostOnly, str: fn}
}

func (t *Table) Has(tag string) bool {
	_, ok := t.handlers[tag]
	return ok
}

// Dispatch invokes the handler registered for the first token of message.
// It reports whether a handler ran.
func (t *Table) Dispatch(sender, message string) bool {
	tag, arg, _ := strings.Cut(message, " ")
	h, ok := t.handlers[tag]
	if !ok {
		t.log.Debug("unknown command", zap.String("tag", tag), zap.String("sender", sender))
		return false
	}
	if h.hostOnly && (t.host == nil || sender != t.host()) {
		return false
	}

	switch h.arity {
	case ArityNone:
		h.none(sender)
	case ArityInt:
		v, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return false
		}
		h.num(sender, v)
	case ArityString:
		h.str(sender, arg)
	}
	return true
}

// Format builds a wire message from a tag and an optional argument.
func Format(tag string, arg ...string) string {
	if len(arg) == 0 || arg[0] == "" {
		return tag
	}
	return tag + " " + arg[0]
}

func FormatInt(tag string, v int) string {
	return tag + " " + strconv.Itoa(v)
}
