// Package types holds the JSON shapes the local control API speaks.
package types

import (
	"time"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/lobby"
	"github.com/DoyleJ11/rts-lobby/internal/storage"
	"github.com/DoyleJ11/rts-lobby/internal/tunnel"
)

// ClientMessage is a websocket frame from a local UI.
type ClientMessage struct {
	Type   string        `json:"type"` // "Action"
	Action *lobby.Action `json:"action,omitempty"`
}

type ServerMessage struct {
	Type    string    `json:"type"` // "StateSnapshot" | "ActionResult" | "Error"
	Version int       `json:"version,omitempty"`
	Room    *RoomView `json:"room,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type PlayerView struct {
	Name     string `json:"name"`
	Side     int    `json:"side"`
	Color    int    `json:"color"`
	Start    int    `json:"start"`
	Team     int    `json:"team"`
	Ready    bool   `json:"ready"`
	Auto     bool   `json:"auto_ready,omitempty"`
	Verified bool   `json:"verified"`
	Ping     int    `json:"ping"`
	InGame   bool   `json:"in_game,omitempty"`
	AI       bool   `json:"ai,omitempty"`
	AILevel  int    `json:"ai_level,omitempty"`
}

type CheckBoxView struct {
	Name    string `json:"name"`
	Checked bool   `json:"checked"`
	Forced  bool   `json:"forced,omitempty"`
}

type DropDownView struct {
	Name     string   `json:"name"`
	Items    []string `json:"items"`
	Selected int      `json:"selected"`
	Forced   bool     `json:"forced,omitempty"`
}

type MapView struct {
	Hash       string `json:"hash"`
	Name       string `json:"name"`
	MinPlayers int    `json:"min_players"`
	MaxPlayers int    `json:"max_players"`
	Official   bool   `json:"official"`
}

type ModeView struct {
	Name   string    `json:"name"`
	UIName string    `json:"ui_name"`
	Maps   []MapView `json:"maps"`
}

type TunnelView struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Country     string `json:"country"`
	Clients     int    `json:"clients"`
	MaxClients  int    `json:"max_clients"`
	Official    bool   `json:"official"`
	Recommended bool   `json:"recommended"`
	Password    bool   `json:"requires_password"`
	Ping        int    `json:"ping"`
	Current     bool   `json:"current"`
}

type MatchView struct {
	GameID    int        `json:"game_id"`
	Room      string     `json:"room"`
	Host      string     `json:"host"`
	Map       string     `json:"map"`
	GameMode  string     `json:"game_mode"`
	Players   []string   `json:"players"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type DownloadView struct {
	Hash         string    `json:"hash"`
	Name         string    `json:"name"`
	Size         int       `json:"size"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// RoomView is a lobby snapshot flattened for clients.
type RoomView struct {
	Room          string         `json:"room"`
	Local         string         `json:"local"`
	Role          string         `json:"role"`
	Host          string         `json:"host"`
	Phase         string         `json:"phase"`
	Locked        bool           `json:"locked"`
	PlayerLimit   int            `json:"player_limit"`
	Players       []PlayerView   `json:"players"`
	GameMode      string         `json:"game_mode,omitempty"`
	Map           *MapView       `json:"map,omitempty"`
	CheckBoxes    []CheckBoxView `json:"checkboxes"`
	DropDowns     []DropDownView `json:"dropdowns"`
	FrameSendRate int            `json:"frame_send_rate"`
	MaxAhead      int            `json:"max_ahead"`
	Protocol      int            `json:"protocol_version"`
	RemoveStarts  bool           `json:"remove_starting_locations"`
	Seed          int32          `json:"seed"`
	GameID        int            `json:"game_id"`
	Sides         []string       `json:"sides"`
	Colors        []string       `json:"colors"`
	MapTransfer   string         `json:"map_transfer"`
	Tunnel        string         `json:"tunnel,omitempty"`
	Notices       []string       `json:"notices"`
}

func NewMapView(m *engine.Map) MapView {
	return MapView{
		Hash:       m.Hash,
		Name:       m.Name,
		MinPlayers: m.MinPlayers,
		MaxPlayers: m.MaxPlayers,
		Official:   m.Official,
	}
}

func NewModeView(gm *engine.GameMode) ModeView {
	v := ModeView{Name: gm.Name, UIName: gm.UIName, Maps: make([]MapView, 0, len(gm.Maps))}
	for _, m := range gm.Maps {
		v.Maps = append(v.Maps, NewMapView(m))
	}
	return v
}

func NewRoomView(snap lobby.Snapshot) RoomView {
	s := snap.State
	v := RoomView{
		Room:          snap.Room,
		Local:         snap.Local,
		Role:          snap.Role,
		Host:          s.Host,
		Phase:         string(s.Phase),
		Locked:        s.Locked,
		PlayerLimit:   s.PlayerLimit,
		FrameSendRate: s.FrameSendRate,
		MaxAhead:      s.MaxAhead,
		Protocol:      s.ProtocolVersion,
		RemoveStarts:  s.RemoveStartingLocations,
		Seed:          s.RandomSeed,
		GameID:        s.UniqueGameID,
		Sides:         s.Rules.Sides,
		Colors:        s.Rules.Colors,
		MapTransfer:   snap.MapTransfer,
		Tunnel:        snap.Tunnel,
		Notices:       snap.Notices,
	}
	for _, p := range s.Roster() {
		v.Players = append(v.Players, PlayerView{
			Name:     p.Name,
			Side:     p.SideID,
			Color:    p.ColorID,
			Start:    p.StartingLocation,
			Team:     p.TeamID,
			Ready:    p.Ready,
			Auto:     p.AutoReady,
			Verified: p.Verified,
			Ping:     p.Ping,
			InGame:   p.IsInGame,
			AI:       p.IsAI,
			AILevel:  p.AILevel,
		})
	}
	if s.GameMode != nil {
		v.GameMode = s.GameMode.Name
	}
	if s.Map != nil {
		mv := NewMapView(s.Map)
		v.Map = &mv
	}
	for _, cb := range s.Options.CheckBoxes {
		v.CheckBoxes = append(v.CheckBoxes, CheckBoxView{Name: cb.Name, Checked: cb.Checked, Forced: cb.Forced})
	}
	for _, dd := range s.Options.DropDowns {
		v.DropDowns = append(v.DropDowns, DropDownView{Name: dd.Name, Items: dd.Items, Selected: dd.Selected, Forced: dd.Forced})
	}
	return v
}

func NewTunnelView(t tunnel.Tunnel, current bool) TunnelView {
	return TunnelView{
		Key:         t.Key(),
		Name:        t.Name,
		Country:     t.Country,
		Clients:     t.Clients,
		MaxClients:  t.MaxClients,
		Official:    t.Official,
		Recommended: t.Recommended,
		Password:    t.RequiresPassword,
		Ping:        t.PingInMs,
		Current:     current,
	}
}

func NewMatchView(m storage.Match) MatchView {
	return MatchView{
		GameID:    m.GameID,
		Room:      m.Room,
		Host:      m.Host,
		Map:       m.MapName,
		GameMode:  m.GameMode,
		Players:   m.Players,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
	}
}

func NewDownloadView(d storage.DownloadedMap) DownloadView {
	return DownloadView{Hash: d.Hash, Name: d.Name, Size: d.Size, DownloadedAt: d.DownloadedAt}
}
