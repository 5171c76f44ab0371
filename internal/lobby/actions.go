package lobby

import (
	"errors"
)

var (
	ErrHostOnly          = errors.New("only the host can do that")
	ErrGuestOnly         = errors.New("only guests can do that")
	ErrNoMap             = errors.New("you don't have the selected map, the host has to change it")
	ErrLaunchInProgress  = errors.New("launch already in progress")
	ErrInvalidDice       = errors.New("dice must be 1-10 dice with 2-100 sides")
	ErrUnknownAction     = errors.New("unknown action")
	ErrCannotKickSelf    = errors.New("cannot kick yourself")
	ErrNoPendingDownload = errors.New("no map download to confirm")
)

type ActionType string

const (
	ActSetOptions       ActionType = "set_options"
	ActSetAIOptions     ActionType = "set_ai_options"
	ActReady            ActionType = "ready"
	ActAddAI            ActionType = "add_ai"
	ActRemoveAI         ActionType = "remove_ai"
	ActSetAILevel       ActionType = "set_ai_level"
	ActSetCheckBox      ActionType = "set_checkbox"
	ActSetDropDown      ActionType = "set_dropdown"
	ActChangeMap        ActionType = "change_map"
	ActSetFrameSendRate ActionType = "set_frame_send_rate"
	ActSetMaxAhead      ActionType = "set_max_ahead"
	ActSetProtocol      ActionType = "set_protocol_version"
	ActSetRemoveStarts  ActionType = "set_remove_starts"
	ActLock             ActionType = "lock"
	ActKick             ActionType = "kick"
	ActLaunch           ActionType = "launch"
	ActChangeTunnel     ActionType = "change_tunnel"
	ActConfirmDownload  ActionType = "confirm_download"
	ActRollDice         ActionType = "roll_dice"
	ActLeave            ActionType = "leave"
)

// Action is something the local user asked for. Which fields matter
// depends on Type.
type Action struct {
	Type    ActionType `json:"type"`
	Index   int        `json:"index,omitempty"`
	Value   int        `json:"value,omitempty"`
	Flag    bool       `json:"flag,omitempty"`
	Side    int        `json:"side,omitempty"`
	Color   int        `json:"color,omitempty"`
	Start   int        `json:"start,omitempty"`
	Team    int        `json:"team,omitempty"`
	Mode    string     `json:"mode,omitempty"`
	Hash    string     `json:"hash,omitempty"`
	Player  string     `json:"player,omitempty"`
	Address string     `json:"address,omitempty"`
	Port    int        `json:"port,omitempty"`
	Dice    int        `json:"dice,omitempty"`
	Sides   int        `json:"sides,omitempty"`
}

func (l *Lobby) handleAction(a Action) error {
	switch a.Type {
	case ActRollDice:
		return l.rollDice(a.Dice, a.Sides)
	case ActLeave:
		l.close("")
		return nil
	}
	return l.role.act(a)
}
