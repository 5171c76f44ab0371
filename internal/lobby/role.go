package lobby

import (
	"github.com/DoyleJ11/rts-lobby/internal/dispatch"
	"github.com/DoyleJ11/rts-lobby/internal/engine"
)

// role is the host or guest half of a lobby. The lobby picks one at
// construction; everything that differs between the two lives behind it.
type role interface {
	name() string
	register(t *dispatch.Table)
	start()
	stop()
	tick(gen int)
	memberJoined(name string)
	memberLeft(name string)
	act(a Action) error
	digestReady()
	mapDownloaded(m *engine.Map)
	gameExited()
	result(v any)
}
