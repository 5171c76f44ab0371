package lobby

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/codec"
	"github.com/DoyleJ11/rts-lobby/internal/dispatch"
	"github.com/DoyleJ11/rts-lobby/internal/engine"
)

// Control message tags.
const (
	TagOptionsRequest = "OR"
	TagReadyRequest   = "R"
	TagPlayerOptions  = "PO"
	TagGameOptions    = "GO"
	TagStart          = "START"
	TagReturn         = "RETURN"
	TagTunnelPing     = "TNLPNG"
	TagFileHash       = "FHSH"
	TagCheaterName    = "MM"
	TagCheater        = "CD"
	TagDiceRoll       = "DR"
	TagChangeTunnel   = "CHTNL"
	TagAdvertisement  = "GAME"
)

// registerCommon installs the handlers both roles share.
func (l *Lobby) registerCommon() {
	l.table.RegisterNone(TagReturn, false, l.handleReturn)
	l.table.RegisterInt(TagTunnelPing, false, l.handleTunnelPing)
	l.table.RegisterNone(TagCheater, false, l.handleCheater)
	l.table.RegisterString(TagDiceRoll, false, l.handleDiceRoll)
}

func (l *Lobby) handleReturn(sender string) {
	if _, err := l.apply(engine.Command{Type: engine.CmdPlayerReturned, Player: sender}); err != nil {
		l.log.Debug("return from unknown player", zap.String("sender", sender))
	}
}

func (l *Lobby) handleTunnelPing(sender string, ms int) {
	if ms < -1 {
		return
	}
	l.applyLogged(engine.Command{Type: engine.CmdSetPing, Player: sender, Value: ms})
}

func (l *Lobby) handleCheater(sender string) {
	l.notice(fmt.Sprintf("%s has modified game files during the game! They could be cheating!", sender))
}

func (l *Lobby) handleDiceRoll(sender, payload string) {
	d, err := codec.DecodeDiceRoll(payload)
	if err != nil {
		l.log.Debug("bad dice roll", zap.String("sender", sender), zap.Error(err))
		return
	}
	l.notice(fmt.Sprintf("%s rolled %dd%d and got %s.", sender, len(d.Results), d.Sides, joinInts(d.Results)))
}

// rollDice rolls locally and tells the room.
func (l *Lobby) rollDice(dice, sides int) error {
	if !codec.ValidDiceRequest(dice, sides) {
		return fmt.Errorf("%dd%d: %w", dice, sides, ErrInvalidDice)
	}
	d := codec.DiceRoll{Sides: sides, Results: make([]int, dice)}
	for i := range d.Results {
		d.Results[i] = rand.IntN(sides) + 1
	}
	l.send(dispatch.Format(TagDiceRoll, codec.EncodeDiceRoll(d)))
	l.notice(fmt.Sprintf("You rolled %dd%d and got %s.", dice, sides, joinInts(d.Results)))
	return nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

// gameOptionsOf is the GO payload for s.
func gameOptionsOf(s engine.State) codec.GameOptions {
	g := codec.GameOptions{
		CheckBoxes:              make([]bool, len(s.Options.CheckBoxes)),
		DropDowns:               make([]int, len(s.Options.DropDowns)),
		FrameSendRate:           s.FrameSendRate,
		MaxAhead:                s.MaxAhead,
		ProtocolVersion:         s.ProtocolVersion,
		RandomSeed:              s.RandomSeed,
		RemoveStartingLocations: s.RemoveStartingLocations,
	}
	for i, cb := range s.Options.CheckBoxes {
		g.CheckBoxes[i] = cb.Checked
	}
	for i, dd := range s.Options.DropDowns {
		g.DropDowns[i] = dd.Selected
	}
	if s.Map != nil {
		g.MapHash = s.Map.Hash
		g.Official = s.Map.Official
	}
	if s.GameMode != nil {
		g.GameMode = s.GameMode.Name
	}
	return g
}
