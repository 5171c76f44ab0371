package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
)

// Limits bounds the side and color ids a decoded options value may carry.
type Limits struct {
	MaxSide  int
	MaxColor int
}

func LimitsFor(r engine.Rules) Limits {
	return Limits{MaxSide: r.SpectatorSide(), MaxColor: r.ColorCount()}
}

func (l Limits) Check(side, color, start, team int) error {
	switch {
	case side < 0 || side > l.MaxSide:
		return fmt.Errorf("side %d: %w", side, ErrOutOfRange)
	case color < 0 || color > l.MaxColor:
		return fmt.Errorf("color %d: %w", color, ErrOutOfRange)
	case start < 0 || start > MaxStart:
		return fmt.Errorf("start %d: %w", start, ErrOutOfRange)
	case team < 0 || team > MaxTeam:
		return fmt.Errorf("team %d: %w", team, ErrOutOfRange)
	}
	return nil
}

func readyToken(p engine.PlayerInfo) string {
	switch {
	case p.AutoReady:
		return "2"
	case p.Ready:
		return "1"
	}
	return "0"
}

// EncodePlayerOptions writes every roster slot in order: humans as
// name;packed;ready; and AI as level;packed;.
func EncodePlayerOptions(roster []engine.PlayerInfo) string {
	var sb strings.Builder
	for _, p := range roster {
		if p.IsAI {
			sb.WriteString(strconv.Itoa(p.AILevel))
		} else {
			sb.WriteString(p.Name)
		}
		sb.WriteString(fieldSep)
		sb.WriteString(strconv.Itoa(int(PackOptions(p.SideID, p.ColorID, p.StartingLocation, p.TeamID))))
		sb.WriteString(fieldSep)
		if !p.IsAI {
			sb.WriteString(readyToken(p))
			sb.WriteString(fieldSep)
		}
	}
	return sb.String()
}

// DecodePlayerOptions parses a full roster broadcast. Any malformed or out of
// range slot fails the whole payload.
func DecodePlayerOptions(payload string, lim Limits) ([]engine.PlayerInfo, error) {
	var out []engine.PlayerInfo
	parts := strings.Split(payload, fieldSep)

	for i := 0; i < len(parts); {
		if parts[i] == "" {
			i++
			continue
		}

		var p engine.PlayerInfo
		if level, err := strconv.Atoi(parts[i]); err == nil {
			if level < 0 || level > MaxAI {
				return nil, fmt.Errorf("ai level %d: %w", level, ErrOutOfRange)
			}
			p = engine.NewAIPlayer(level)
		} else {
			p = engine.NewPlayer(parts[i])
		}

		if i+1 >= len(parts) {
			return nil, fmt.Errorf("slot %q: %w", parts[i], ErrMalformed)
		}
		packed, err := strconv.ParseInt(parts[i+1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("slot %q options: %w", parts[i], ErrMalformed)
		}
		side, color, start, team := UnpackOptions(int32(packed))
		if err := lim.Check(side, color, start, team); err != nil {
			return nil, err
		}
		p.SideID, p.ColorID, p.StartingLocation, p.TeamID = side, color, start, team

		if p.IsAI {
			out = append(out, p)
			i += 2
			continue
		}

		if i+2 >= len(parts) {
			return nil, fmt.Errorf("slot %q: %w", parts[i], ErrMalformed)
		}
		ready, err := strconv.Atoi(parts[i+2])
		if err != nil || ready < 0 || ready > 2 {
			return nil, fmt.Errorf("slot %q ready: %w", parts[i], ErrMalformed)
		}
		p.Ready = ready > 0
		p.AutoReady = ready > 1
		out = append(out, p)
		i += 3
	}
	return out, nil
}
