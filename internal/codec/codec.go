// Package codec encodes and decodes the payloads carried by lobby control
// messages. Fields inside a payload are separated by ';' and numbers are
// decimal ASCII.
package codec

import (
	"errors"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed payload")
var ErrOutOfRange = errors.New("value out of range")
var ErrVersionMismatch = errors.New("game option schema mismatch")

const (
	MaxStart = 8
	MaxTeam  = 4
	MaxAI    = 2
	MaxDice  = 10
	MaxSides = 100
	minSides = 2
	fieldSep = ";"
	listSep  = ","
	portSep  = ":"
)

// PackOptions folds side, color, start and team into one integer, side in
// the most significant byte.
func PackOptions(side, color, start, team int) int32 {
	v := uint32(byte(side))<<24 | uint32(byte(color))<<16 | uint32(byte(start))<<8 | uint32(byte(team))
	return int32(v)
}

func UnpackOptions(v int32) (side, color, start, team int) {
	u := uint32(v)
	return int(u >> 24 & 0xff), int(u >> 16 & 0xff), int(u >> 8 & 0xff), int(u & 0xff)
}

// PackBools packs flags 32 to an integer, flag i going to bit i%32 of
// integer i/32.
func PackBools(flags []bool) []int32 {
	out := make([]int32, (len(flags)+31)/32)
	for i, f := range flags {
		if f {
			out[i/32] |= int32(uint32(1) << (i % 32))
		}
	}
	return out
}

func UnpackBools(packed []int32, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		if i/32 >= len(packed) {
			break
		}
		out[i] = uint32(packed[i/32])&(uint32(1)<<(i%32)) != 0
	}
	return out
}

func boolToken(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(tok string) (bool, error) {
	switch tok {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, ErrMalformed
}

// splitFields splits on ';' and drops one trailing empty field.
func splitFields(payload string) []string {
	parts := strings.Split(payload, fieldSep)
	if n := len(parts); n > 1 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

func atoi(tok string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(tok))
	if err != nil {
		return 0, ErrMalformed
	}
	return v, nil
}
