package lobby

import (
	"fmt"

	"github.com/DoyleJ11/rts-lobby/internal/dispatch"
	"github.com/DoyleJ11/rts-lobby/internal/engine"
)

// launchNotice ties a launch precondition to the tag the host sends for it
// and the text shown on every client.
type launchNotice struct {
	reason  engine.LaunchReason
	tag     string
	indexed bool
	text    func(s engine.State, idx int) string
}

var launchNotices = []launchNotice{
	{engine.ReasonNotLocked, "LCKGME", false, func(engine.State, int) string {
		return "The game needs to be locked before it can be started."
	}},
	{engine.ReasonSharedColors, "CLRS", false, func(engine.State, int) string {
		return "Multiple players cannot share the same color."
	}},
	{engine.ReasonAISpectators, "AISPECS", false, func(engine.State, int) string {
		return "AI players don't enjoy spectating matches. They want some action!"
	}},
	{engine.ReasonSharedStart, "SLOC", false, func(engine.State, int) string {
		return "Multiple players cannot share the same starting location on this map."
	}},
	{engine.ReasonInsufficientPlayers, "INSFSPLRS", false, func(s engine.State, _ int) string {
		if s.Map == nil {
			return "Unable to launch game: the map needs more players."
		}
		return fmt.Sprintf("Unable to launch game: this map cannot be played with fewer than %d players.", s.Map.MinPlayers)
	}},
	{engine.ReasonTooManyPlayers, "TMPLRS", false, func(s engine.State, _ int) string {
		if s.Map == nil {
			return "Unable to launch game: the map has too many players."
		}
		return fmt.Sprintf("Unable to launch game: this map cannot be played with more than %d players.", s.Map.MaxPlayers)
	}},
	{engine.ReasonNotVerified, "NVRFY", true, func(s engine.State, idx int) string {
		return fmt.Sprintf("Unable to launch game: player %s hasn't been verified.", playerName(s, idx))
	}},
	{engine.ReasonStillInGame, "INGM", true, func(s engine.State, idx int) string {
		return fmt.Sprintf("Unable to launch game: player %s is still playing the previous game.", playerName(s, idx))
	}},
	{engine.ReasonNotReady, "GETREADY", false, func(engine.State, int) string {
		return "The host wants to start the game but not all players are ready!"
	}},
}

func noticeFor(reason engine.LaunchReason) (launchNotice, bool) {
	for _, n := range launchNotices {
		if n.reason == reason {
			return n, true
		}
	}
	return launchNotice{}, false
}

// message is the control message the host broadcasts for a failure.
func (n launchNotice) message(idx int) string {
	if n.indexed {
		return dispatch.FormatInt(n.tag, idx)
	}
	return n.tag
}

func playerName(s engine.State, idx int) string {
	if idx < 0 || idx >= len(s.Players) {
		return "?"
	}
	return s.Players[idx].Name
}
