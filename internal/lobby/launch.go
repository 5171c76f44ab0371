package lobby

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/randomizer"
	"github.com/DoyleJ11/rts-lobby/internal/spawn"
)

// startGame randomizes the room, builds the spawn settings and runs the game
// off the loop. Room synchronization pauses until gameExited comes back.
func (l *Lobby) startGame() {
	l.gameRunning = true

	res := randomizer.Randomize(randomizer.FromState(l.state))
	in := spawn.Input{State: l.state, Result: res, Local: l.cfg.Local}
	if t, ok := l.deps.Tunnels.Current(); ok {
		in.TunnelAddress, in.TunnelPort = t.Address, t.Port
	}
	settings, err := spawn.Build(in)
	if err != nil {
		l.log.Error("building spawn settings", zap.Error(err))
		l.notice("Unable to start the game: " + err.Error())
		l.gameExited(err)
		return
	}

	digest := l.digest
	verifier := l.deps.Verifier
	game := l.deps.Game
	go func() {
		if digest != "" {
			if d, err := verifier.Digest(l.ctx); err == nil && d != digest {
				l.post(filesChanged{})
			}
		}
		l.post(gameExited{err: game.Run(l.ctx, settings)})
	}()
}

func (l *Lobby) gameExited(err error) {
	if !l.gameRunning {
		return
	}
	l.gameRunning = false
	if err != nil {
		l.log.Info("game exited with error", zap.Error(err))
	}
	l.send(TagReturn)
	l.applyLogged(engine.Command{Type: engine.CmdPlayerReturned, Player: l.cfg.Local})
	l.role.gameExited()
}
