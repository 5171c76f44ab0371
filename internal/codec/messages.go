package codec

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// StartEntry is one player's slot in a START payload.
type StartEntry struct {
	Name string
	Host string
	Port int
}

type Start struct {
	GameID  int
	Players []StartEntry
}

func EncodeStart(s Start) string {
	tokens := []string{strconv.Itoa(s.GameID)}
	for _, p := range s.Players {
		host := p.Host
		if host == "" {
			host = "0.0.0.0"
		}
		tokens = append(tokens, p.Name, net.JoinHostPort(host, strconv.Itoa(p.Port)))
	}
	return strings.Join(tokens, fieldSep)
}

func DecodeStart(payload string) (Start, error) {
	parts := splitFields(payload)
	id, err := atoi(parts[0])
	if err != nil || id < 0 {
		return Start{}, fmt.Errorf("game id: %w", ErrMalformed)
	}
	if (len(parts)-1)%2 != 0 {
		return Start{}, fmt.Errorf("odd player field count: %w", ErrMalformed)
	}

	s := Start{GameID: id}
	for i := 1; i < len(parts); i += 2 {
		host, port, err := splitHostPort(parts[i+1])
		if err != nil {
			return Start{}, fmt.Errorf("player %q: %w", parts[i], err)
		}
		s.Players = append(s.Players, StartEntry{Name: parts[i], Host: host, Port: port})
	}
	return s, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, ErrMalformed
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, ErrMalformed
	}
	return host, port, nil
}

// DiceRoll is the DR payload: sides,r1,r2,...
type DiceRoll struct {
	Sides   int
	Results []int
}

func EncodeDiceRoll(d DiceRoll) string {
	tokens := make([]string, 0, len(d.Results)+1)
	tokens = append(tokens, strconv.Itoa(d.Sides))
	for _, r := range d.Results {
		tokens = append(tokens, strconv.Itoa(r))
	}
	return strings.Join(tokens, listSep)
}

func DecodeDiceRoll(payload string) (DiceRoll, error) {
	parts := strings.Split(payload, listSep)
	if len(parts) < 2 || len(parts) > MaxDice+1 {
		return DiceRoll{}, fmt.Errorf("%d dice: %w", len(parts)-1, ErrOutOfRange)
	}
	sides, err := atoi(parts[0])
	if err != nil {
		return DiceRoll{}, err
	}
	if sides < minSides || sides > MaxSides {
		return DiceRoll{}, fmt.Errorf("%d sides: %w", sides, ErrOutOfRange)
	}
	d := DiceRoll{Sides: sides, Results: make([]int, 0, len(parts)-1)}
	for _, tok := range parts[1:] {
		r, err := atoi(tok)
		if err != nil {
			return DiceRoll{}, err
		}
		if r < 1 || r > sides {
			return DiceRoll{}, fmt.Errorf("roll %d on d%d: %w", r, sides, ErrOutOfRange)
		}
		d.Results = append(d.Results, r)
	}
	return d, nil
}

func ValidDiceRequest(dice, sides int) bool {
	return dice >= 1 && dice <= MaxDice && sides >= minSides && sides <= MaxSides
}

func EncodeTunnel(address string, port int) string {
	return address + portSep + strconv.Itoa(port)
}

// DecodeTunnel splits a CHTNL payload. The address part is kept verbatim so
// it can be matched against the tunnel list.
func DecodeTunnel(payload string) (string, int, error) {
	idx := strings.LastIndex(payload, portSep)
	if idx <= 0 {
		return "", 0, ErrMalformed
	}
	port, err := strconv.Atoi(payload[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, ErrMalformed
	}
	return payload[:idx], port, nil
}

// Advertisement is the periodic GAME broadcast sent by a host.
type Advertisement struct {
	ProtocolRevision string
	GameVersion      string
	PlayerLimit      int
	Room             string
	RoomName         string
	Locked           bool
	Passworded       bool
	Closed           bool
	Players          []string
	MapName          string
	GameMode         string
	TunnelAddress    string
	TunnelPort       int
}

// EncodeAdvertisement leaves the tunnel field empty when no tunnel is in
// use.
func EncodeAdvertisement(a Advertisement) string {
	flags := boolToken(a.Locked) + boolToken(a.Passworded) + boolToken(a.Closed) + "0" + "0"
	tunnel := ""
	if a.TunnelAddress != "" {
		tunnel = EncodeTunnel(a.TunnelAddress, a.TunnelPort)
	}
	return strings.Join([]string{
		a.ProtocolRevision,
		a.GameVersion,
		strconv.Itoa(a.PlayerLimit),
		a.Room,
		a.RoomName,
		flags,
		strings.Join(a.Players, listSep),
		a.MapName,
		a.GameMode,
		tunnel,
		"0",
	}, fieldSep)
}

func DecodeAdvertisement(payload string) (Advertisement, error) {
	parts := splitFields(payload)
	if len(parts) != 11 {
		return Advertisement{}, fmt.Errorf("got %d fields: %w", len(parts), ErrMalformed)
	}
	limit, err := atoi(parts[2])
	if err != nil {
		return Advertisement{}, err
	}
	flags := parts[5]
	if len(flags) < 3 {
		return Advertisement{}, fmt.Errorf("flags %q: %w", flags, ErrMalformed)
	}
	var addr string
	var port int
	if parts[9] != "" {
		if addr, port, err = DecodeTunnel(parts[9]); err != nil {
			return Advertisement{}, err
		}
	}
	a := Advertisement{
		ProtocolRevision: parts[0],
		GameVersion:      parts[1],
		PlayerLimit:      limit,
		Room:             parts[3],
		RoomName:         parts[4],
		Locked:           flags[0] == '1',
		Passworded:       flags[1] == '1',
		Closed:           flags[2] == '1',
		MapName:          parts[7],
		GameMode:         parts[8],
		TunnelAddress:    addr,
		TunnelPort:       port,
	}
	if parts[6] != "" {
		a.Players = strings.Split(parts[6], listSep)
	}
	return a, nil
}
