package engine

import (
	"errors"
	"slices"
)

var ErrInvalidOptions = errors.New("invalid player options")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrRosterFull = errors.New("roster full")
var ErrInvalidGameOption = errors.New("invalid game option")
var ErrOptionForced = errors.New("option is forced by map or game mode")
var ErrGameInProgress = errors.New("game in progress")
var ErrUnsupportedCommand = errors.New("unsupported command")

const (
	MaxPlayers = 8
	MaxTeams   = 4
	MaxAILevel = 2
)

type Phase string

const (
	PhaseSetup  Phase = "setup"
	PhaseLocked Phase = "locked"
	PhaseInGame Phase = "ingame"
)

// PlayerInfo is one roster slot. AI slots set IsAI and AILevel and never
// carry ping, port or verification state.
type PlayerInfo struct {
	Name             string
	SideID           int
	ColorID          int
	TeamID           int
	StartingLocation int
	Ready            bool
	AutoReady        bool
	Verified         bool
	Ping             int
	IsInGame         bool
	Port             int
	IsAI             bool
	AILevel          int
}

type State struct {
	Phase                   Phase
	Host                    string
	Players                 []PlayerInfo
	AIPlayers               []PlayerInfo
	Options                 GameOptions
	GameMode                *GameMode
	Map                     *Map
	FrameSendRate           int
	MaxAhead                int
	ProtocolVersion         int
	RandomSeed              int32
	RemoveStartingLocations bool
	Locked                  bool
	PlayerLimit             int
	UniqueGameID            int
	Rules                   Rules
}

type CommandType string

const (
	CmdPlayerJoin       CommandType = "PlayerJoin"
	CmdPlayerLeave      CommandType = "PlayerLeave"
	CmdOptionsRequest   CommandType = "OptionsRequest"
	CmdSetAIOptions     CommandType = "SetAIOptions"
	CmdReadyRequest     CommandType = "ReadyRequest"
	CmdAddAI            CommandType = "AddAI"
	CmdRemoveAI         CommandType = "RemoveAI"
	CmdSetAILevel       CommandType = "SetAILevel"
	CmdSetCheckBox      CommandType = "SetCheckBox"
	CmdSetDropDown      CommandType = "SetDropDown"
	CmdChangeMap        CommandType = "ChangeMap"
	CmdSetFrameSendRate CommandType = "SetFrameSendRate"
	CmdSetMaxAhead      CommandType = "SetMaxAhead"
	CmdSetProtocol      CommandType = "SetProtocolVersion"
	CmdSetRemoveStarts  CommandType = "SetRemoveStartingLocations"
	CmdSetLocked        CommandType = "SetLocked"
	CmdSetVerified      CommandType = "SetVerified"
	CmdSetPing          CommandType = "SetPing"
	CmdPlayerReturned   CommandType = "PlayerReturned"
	CmdGameStarted      CommandType = "GameStarted"
	CmdGameExited       CommandType = "GameExited"
	CmdClearReadyStatus CommandType = "ClearReadyStatus"
)

/*
	CmdOptionsRequest -> EvtPlayerOptionsChanged (+ EvtReadyCleared when side/start/team moved)
	CmdSetCheckBox    -> EvtGameOptionsChanged -> EvtReadyCleared (+ EvtPlayerOptionsChanged when sides were normalized)
	CmdChangeMap      -> EvtMapChanged -> EvtGameOptionsChanged -> EvtPlayerOptionsChanged -> EvtReadyCleared
	CmdGameExited     -> EvtGameEnded -> EvtGameOptionsChanged -> EvtPlayerOptionsChanged
*/

type Command struct {
	Type     CommandType
	Player   string
	Index    int
	Side     int
	Color    int
	Start    int
	Team     int
	Value    int
	Flag     bool
	GameMode *GameMode
	Map      *Map
}

type EventType string

const (
	EvtPlayerJoined         EventType = "PlayerJoined"
	EvtPlayerLeft           EventType = "PlayerLeft"
	EvtPlayerOptionsChanged EventType = "PlayerOptionsChanged"
	EvtGameOptionsChanged   EventType = "GameOptionsChanged"
	EvtReadyCleared         EventType = "ReadyCleared"
	EvtMapChanged           EventType = "MapChanged"
	EvtLockChanged          EventType = "LockChanged"
	EvtGameStarted          EventType = "GameStarted"
	EvtGameEnded            EventType = "GameEnded"
)

type Event struct {
	Type   EventType
	Player string
}

// Apply validates cmd against s and returns the resulting state. On error the
// returned state is s, untouched.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseInGame && !allowedInGame(cmd.Type) {
		return nil, s, ErrGameInProgress
	}

	ns := s.Clone()

	switch cmd.Type {
	case CmdPlayerJoin:
		if ns.FindPlayer(cmd.Player) >= 0 {
			return nil, s, nil
		}
		if err := ValidName(cmd.Player); err != nil {
			return nil, s, err
		}
		ns.Players = append(ns.Players, NewPlayer(cmd.Player))
		if len(ns.Players)+len(ns.AIPlayers) > MaxPlayers {
			if len(ns.AIPlayers) == 0 {
				return nil, s, ErrRosterFull
			}
			ns.AIPlayers = ns.AIPlayers[:len(ns.AIPlayers)-1]
		}
		NormalizeSides(&ns)
		return []Event{
			{Type: EvtPlayerJoined, Player: cmd.Player},
			{Type: EvtPlayerOptionsChanged},
		}, ns, nil

	case CmdPlayerLeave:
		idx := ns.FindPlayer(cmd.Player)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}
		ns.Players = slices.Delete(ns.Players, idx, idx+1)
		return []Event{
			{Type: EvtPlayerLeft, Player: cmd.Player},
			{Type: EvtPlayerOptionsChanged},
		}, ns, nil

	case CmdOptionsRequest:
		idx := ns.FindPlayer(cmd.Player)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}
		if err := ValidateOptions(ns, cmd.Side, cmd.Color, cmd.Start, cmd.Team); err != nil {
			return nil, s, err
		}
		events := setOptions(&ns, &ns.Players[idx], cmd)
		return events, ns, nil

	case CmdSetAIOptions:
		if cmd.Index < 0 || cmd.Index >= len(ns.AIPlayers) {
			return nil, s, ErrUnknownPlayer
		}
		if err := ValidateOptions(ns, cmd.Side, cmd.Color, cmd.Start, cmd.Team); err != nil {
			return nil, s, err
		}
		if cmd.Side == ns.Rules.SpectatorSide() {
			return nil, s, ErrInvalidOptions
		}
		events := setOptions(&ns, &ns.AIPlayers[cmd.Index], cmd)
		return events, ns, nil

	case CmdReadyRequest:
		idx := ns.FindPlayer(cmd.Player)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}
		ns.Players[idx].Ready = cmd.Value > 0
		ns.Players[idx].AutoReady = cmd.Value > 1
		return []Event{{Type: EvtPlayerOptionsChanged, Player: cmd.Player}}, ns, nil

	case CmdAddAI:
		if len(ns.Players)+len(ns.AIPlayers) >= MaxPlayers {
			return nil, s, ErrRosterFull
		}
		if cmd.Value < 0 || cmd.Value > MaxAILevel {
			return nil, s, ErrInvalidOptions
		}
		ns.AIPlayers = append(ns.AIPlayers, NewAIPlayer(cmd.Value))
		NormalizeSides(&ns)
		return []Event{{Type: EvtPlayerOptionsChanged}}, ns, nil

	case CmdRemoveAI:
		if cmd.Index < 0 || cmd.Index >= len(ns.AIPlayers) {
			return nil, s, ErrUnknownPlayer
		}
		ns.AIPlayers = slices.Delete(ns.AIPlayers, cmd.Index, cmd.Index+1)
		return []Event{{Type: EvtPlayerOptionsChanged}}, ns, nil

	case CmdSetAILevel:
		if cmd.Index < 0 || cmd.Index >= len(ns.AIPlayers) {
			return nil, s, ErrUnknownPlayer
		}
		if cmd.Value < 0 || cmd.Value > MaxAILevel {
			return nil, s, ErrInvalidOptions
		}
		ns.AIPlayers[cmd.Index].AILevel = cmd.Value
		ns.AIPlayers[cmd.Index].Name = AILevelName(cmd.Value)
		return []Event{{Type: EvtPlayerOptionsChanged}}, ns, nil

	case CmdSetCheckBox:
		if cmd.Index < 0 || cmd.Index >= len(ns.Options.CheckBoxes) {
			return nil, s, ErrInvalidGameOption
		}
		if ns.Options.CheckBoxes[cmd.Index].Forced {
			return nil, s, ErrOptionForced
		}
		ns.Options.CheckBoxes[cmd.Index].Checked = cmd.Flag
		return gameOptionEvents(&ns, NormalizeSides(&ns)), ns, nil

	case CmdSetDropDown:
		if cmd.Index < 0 || cmd.Index >= len(ns.Options.DropDowns) {
			return nil, s, ErrInvalidGameOption
		}
		dd := &ns.Options.DropDowns[cmd.Index]
		if dd.Forced {
			return nil, s, ErrOptionForced
		}
		if cmd.Value < 0 || cmd.Value >= len(dd.Items) {
			return nil, s, ErrInvalidGameOption
		}
		dd.Selected = cmd.Value
		return gameOptionEvents(&ns, false), ns, nil

	case CmdChangeMap:
		ChangeMap(&ns, cmd.GameMode, cmd.Map)
		events := []Event{{Type: EvtMapChanged}}
		events = append(events, gameOptionEvents(&ns, true)...)
		return events, ns, nil

	case CmdSetFrameSendRate:
		if cmd.Value < 1 {
			return nil, s, ErrInvalidGameOption
		}
		ns.FrameSendRate = cmd.Value
		return gameOptionEvents(&ns, false), ns, nil

	case CmdSetMaxAhead:
		if cmd.Value < 0 {
			return nil, s, ErrInvalidGameOption
		}
		ns.MaxAhead = cmd.Value
		return gameOptionEvents(&ns, false), ns, nil

	case CmdSetProtocol:
		if cmd.Value != 0 && cmd.Value != 2 {
			return nil, s, ErrInvalidGameOption
		}
		ns.ProtocolVersion = cmd.Value
		return gameOptionEvents(&ns, false), ns, nil

	case CmdSetRemoveStarts:
		ns.RemoveStartingLocations = cmd.Flag
		return gameOptionEvents(&ns, false), ns, nil

	case CmdSetLocked:
		ns.Locked = cmd.Flag
		ns.Phase = DerivePhase(ns)
		return []Event{{Type: EvtLockChanged}}, ns, nil

	case CmdSetVerified:
		idx := ns.FindPlayer(cmd.Player)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}
		ns.Players[idx].Verified = cmd.Flag
		return nil, ns, nil

	case CmdSetPing:
		idx := ns.FindPlayer(cmd.Player)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}
		ns.Players[idx].Ping = cmd.Value
		return nil, ns, nil

	case CmdPlayerReturned:
		idx := ns.FindPlayer(cmd.Player)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}
		ns.Players[idx].IsInGame = false
		return []Event{{Type: EvtPlayerOptionsChanged, Player: cmd.Player}}, ns, nil

	case CmdGameStarted:
		for i := range ns.Players {
			ns.Players[i].IsInGame = true
		}
		ns.Phase = PhaseInGame
		return []Event{{Type: EvtGameStarted}}, ns, nil

	case CmdGameExited:
		ns.Phase = PhaseSetup
		ns.RandomSeed = int32(cmd.Value)
		if cmd.Index > 0 {
			ns.UniqueGameID = cmd.Index
		}
		for i := range ns.Players {
			ns.Players[i].Port = 0
		}
		ns.Phase = DerivePhase(ns)
		events := []Event{{Type: EvtGameEnded}}
		events = append(events, gameOptionEvents(&ns, true)...)
		return events, ns, nil

	case CmdClearReadyStatus:
		ClearReadyStatuses(ns.Players)
		return []Event{{Type: EvtReadyCleared}, {Type: EvtPlayerOptionsChanged}}, ns, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func allowedInGame(t CommandType) bool {
	switch t {
	case CmdPlayerJoin, CmdPlayerLeave, CmdPlayerReturned, CmdGameExited, CmdSetPing,
		CmdSetVerified, CmdSetLocked:
		return true
	}
	return false
}

func setOptions(s *State, p *PlayerInfo, cmd Command) []Event {
	events := []Event{{Type: EvtPlayerOptionsChanged, Player: p.Name}}
	moved := p.SideID != cmd.Side || p.StartingLocation != cmd.Start || p.TeamID != cmd.Team

	p.SideID = cmd.Side
	p.ColorID = cmd.Color
	p.StartingLocation = cmd.Start
	p.TeamID = cmd.Team

	if p.SideID == s.Rules.SpectatorSide() {
		p.StartingLocation = 0
	}

	if moved {
		ClearReadyStatuses(s.Players)
		events = append(events, Event{Type: EvtReadyCleared})
	}
	return events
}

func gameOptionEvents(s *State, playersTouched bool) []Event {
	ClearReadyStatuses(s.Players)
	events := []Event{{Type: EvtGameOptionsChanged}}
	if playersTouched {
		events = append(events, Event{Type: EvtPlayerOptionsChanged})
	}
	return append(events, Event{Type: EvtReadyCleared})
}
