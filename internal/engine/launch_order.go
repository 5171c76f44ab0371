package engine

import "fmt"

type LaunchReason string

const (
	ReasonNoMap               LaunchReason = "no map"
	ReasonNotLocked           LaunchReason = "not locked"
	ReasonSharedColors        LaunchReason = "shared colors"
	ReasonAISpectators        LaunchReason = "ai spectators"
	ReasonSharedStart         LaunchReason = "shared starting locations"
	ReasonInsufficientPlayers LaunchReason = "insufficient players"
	ReasonTooManyPlayers      LaunchReason = "too many players"
	ReasonNotVerified         LaunchReason = "not verified"
	ReasonStillInGame         LaunchReason = "still in game"
	ReasonNotReady            LaunchReason = "not ready"
)

// LaunchFailure is the first launch precondition that did not hold.
// PlayerIndex is the offending human's roster index, or -1.
type LaunchFailure struct {
	Reason      LaunchReason
	PlayerIndex int
}

func (f *LaunchFailure) Error() string {
	if f.PlayerIndex >= 0 {
		return fmt.Sprintf("cannot launch: %s (player %d)", f.Reason, f.PlayerIndex)
	}
	return fmt.Sprintf("cannot launch: %s", f.Reason)
}

type launchCheck func(s State, local string) *LaunchFailure

// LaunchOrder is evaluated top to bottom. The first failing check wins.
var LaunchOrder = []launchCheck{
	checkMap,
	checkLocked,
	checkSharedColors,
	checkAISpectators,
	checkStartingLocations,
	checkPlayerCount,
	checkVerified,
	checkReady,
}

// CheckLaunch returns nil when local may start the game.
func CheckLaunch(s State, local string) *LaunchFailure {
	for _, check := range LaunchOrder {
		if f := check(s, local); f != nil {
			return f
		}
	}
	return nil
}

func fail(r LaunchReason) *LaunchFailure { return &LaunchFailure{Reason: r, PlayerIndex: -1} }

func checkMap(s State, _ string) *LaunchFailure {
	if s.Map == nil {
		return fail(ReasonNoMap)
	}
	return nil
}

func checkLocked(s State, _ string) *LaunchFailure {
	if s.Rules.RequireLock && !s.Locked {
		return fail(ReasonNotLocked)
	}
	return nil
}

func checkSharedColors(s State, _ string) *LaunchFailure {
	seen := map[int]bool{}
	for _, p := range s.Roster() {
		if p.ColorID == 0 {
			continue
		}
		if seen[p.ColorID] {
			return fail(ReasonSharedColors)
		}
		seen[p.ColorID] = true
	}
	return nil
}

func checkAISpectators(s State, _ string) *LaunchFailure {
	for _, ai := range s.AIPlayers {
		if ai.SideID == s.Rules.SpectatorSide() {
			return fail(ReasonAISpectators)
		}
	}
	return nil
}

func checkStartingLocations(s State, _ string) *LaunchFailure {
	if !s.Map.EnforceMaxPlayers {
		return nil
	}
	seen := map[int]bool{}
	for _, p := range s.Roster() {
		if p.StartingLocation == 0 {
			continue
		}
		if seen[p.StartingLocation] {
			return fail(ReasonSharedStart)
		}
		seen[p.StartingLocation] = true
	}
	return nil
}

func checkPlayerCount(s State, _ string) *LaunchFailure {
	if !s.Map.EnforceMaxPlayers {
		return nil
	}
	n := len(s.AIPlayers)
	for _, p := range s.Players {
		if p.SideID != s.Rules.SpectatorSide() {
			n++
		}
	}
	if n < s.Map.MinPlayers {
		return fail(ReasonInsufficientPlayers)
	}
	if n > s.Map.MaxPlayers {
		return fail(ReasonTooManyPlayers)
	}
	return nil
}

func checkVerified(s State, local string) *LaunchFailure {
	for i, p := range s.Players {
		if p.Name == local {
			continue
		}
		if !p.Verified {
			return &LaunchFailure{Reason: ReasonNotVerified, PlayerIndex: i}
		}
	}
	return nil
}

func checkReady(s State, local string) *LaunchFailure {
	for i, p := range s.Players {
		if p.Name == local || p.Ready {
			continue
		}
		if p.IsInGame {
			return &LaunchFailure{Reason: ReasonStillInGame, PlayerIndex: i}
		}
		return &LaunchFailure{Reason: ReasonNotReady, PlayerIndex: i}
	}
	return nil
}
