package engine

import (
	"fmt"
	"strconv"
	"time"
)

var aiLevelNames = [...]string{"Easy AI", "Medium AI", "Hard AI"}

func NewState(host string, rules Rules) State {
	s := State{
		Host:            host,
		Rules:           rules,
		FrameSendRate:   7,
		MaxAhead:        0,
		ProtocolVersion: 2,
		PlayerLimit:     MaxPlayers,
	}
	if host != "" {
		p := NewPlayer(host)
		p.Ready = true
		p.Verified = true
		s.Players = append(s.Players, p)
	}
	s.Phase = DerivePhase(s)
	return s
}

func NewPlayer(name string) PlayerInfo {
	return PlayerInfo{Name: name, Ping: -1}
}

func NewAIPlayer(level int) PlayerInfo {
	return PlayerInfo{
		Name:    AILevelName(level),
		IsAI:    true,
		AILevel: level,
		Ready:   true,
		Ping:    -1,
	}
}

func AILevelName(level int) string {
	if level < 0 || level >= len(aiLevelNames) {
		return "AI"
	}
	return aiLevelNames[level]
}

// Clone copies the mutable slices. Map and GameMode are shared, they are
// never written after loading.
func (s State) Clone() State {
	ns := s
	ns.Players = append([]PlayerInfo(nil), s.Players...)
	ns.AIPlayers = append([]PlayerInfo(nil), s.AIPlayers...)
	ns.Options.CheckBoxes = append([]CheckBox(nil), s.Options.CheckBoxes...)
	ns.Options.DropDowns = append([]DropDown(nil), s.Options.DropDowns...)
	return ns
}

func (s State) FindPlayer(name string) int {
	for i, p := range s.Players {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Roster is humans followed by AI, the order used on the wire and by the
// randomizer.
func (s State) Roster() []PlayerInfo {
	out := make([]PlayerInfo, 0, len(s.Players)+len(s.AIPlayers))
	out = append(out, s.Players...)
	return append(out, s.AIPlayers...)
}

func (s State) OccupiedSlots() int {
	return len(s.Players) + len(s.AIPlayers)
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func DerivePhase(s State) Phase {
	if s.Phase == PhaseInGame {
		return PhaseInGame
	}
	if s.Locked {
		return PhaseLocked
	}
	return PhaseSetup
}

// ClearReadyStatuses drops the ready flag of everyone who has not opted into
// auto-ready.
func ClearReadyStatuses(players []PlayerInfo) {
	for i := range players {
		if players[i].IsAI {
			continue
		}
		players[i].Ready = players[i].AutoReady
	}
}

// GenerateGameID builds an id from the current day, month, hour and minute
// with a 0..19 prefix, skipping ids that taken reports as already used.
func GenerateGameID(now time.Time, taken func(int) bool) (int, error) {
	stamp := fmt.Sprintf("%d%d%d%d", now.Day(), int(now.Month()), now.Hour(), now.Minute())
	for i := 0; i < 20; i++ {
		id, err := strconv.Atoi(strconv.Itoa(i) + stamp)
		if err != nil {
			return 0, err
		}
		if taken == nil || !taken(id) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no free game id for %s", stamp)
}
