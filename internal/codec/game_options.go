package codec

import (
	"fmt"
	"strconv"
	"strings"
)

const gameOptionTrailer = 8

type GameOptions struct {
	CheckBoxes              []bool
	DropDowns               []int
	Official                bool
	MapHash                 string
	GameMode                string
	FrameSendRate           int
	MaxAhead                int
	ProtocolVersion         int
	RandomSeed              int32
	RemoveStartingLocations bool
}

func checkBoxInts(n int) int { return (n + 31) / 32 }

func EncodeGameOptions(g GameOptions) string {
	tokens := make([]string, 0, checkBoxInts(len(g.CheckBoxes))+len(g.DropDowns)+gameOptionTrailer)
	for _, v := range PackBools(g.CheckBoxes) {
		tokens = append(tokens, strconv.Itoa(int(v)))
	}
	for _, v := range g.DropDowns {
		tokens = append(tokens, strconv.Itoa(v))
	}
	tokens = append(tokens,
		boolToken(g.Official),
		g.MapHash,
		g.GameMode,
		strconv.Itoa(g.FrameSendRate),
		strconv.Itoa(g.MaxAhead),
		strconv.Itoa(g.ProtocolVersion),
		strconv.Itoa(int(g.RandomSeed)),
		boolToken(g.RemoveStartingLocations),
	)
	return strings.Join(tokens, fieldSep)
}

// DecodeGameOptions interprets payload against the locally registered
// checkbox and dropdown counts. A token count that doesn't match is reported
// as ErrVersionMismatch before any field is read.
func DecodeGameOptions(payload string, nCheckBoxes, nDropDowns int) (GameOptions, error) {
	parts := splitFields(payload)
	nInts := checkBoxInts(nCheckBoxes)
	want := nInts + nDropDowns + gameOptionTrailer
	if len(parts) != want {
		return GameOptions{}, fmt.Errorf("got %d tokens, want %d: %w", len(parts), want, ErrVersionMismatch)
	}

	var g GameOptions
	packed := make([]int32, nInts)
	for i := range packed {
		v, err := strconv.ParseInt(parts[i], 10, 32)
		if err != nil {
			return GameOptions{}, fmt.Errorf("checkbox block %d: %w", i, ErrMalformed)
		}
		packed[i] = int32(v)
	}
	g.CheckBoxes = UnpackBools(packed, nCheckBoxes)

	g.DropDowns = make([]int, nDropDowns)
	for i := range g.DropDowns {
		v, err := atoi(parts[nInts+i])
		if err != nil || v < 0 {
			return GameOptions{}, fmt.Errorf("dropdown %d: %w", i, ErrMalformed)
		}
		g.DropDowns[i] = v
	}

	t := parts[nInts+nDropDowns:]
	var err error
	if g.Official, err = parseBool(t[0]); err != nil {
		return GameOptions{}, fmt.Errorf("official flag: %w", err)
	}
	g.MapHash = t[1]
	g.GameMode = t[2]
	if g.FrameSendRate, err = atoi(t[3]); err != nil {
		return GameOptions{}, fmt.Errorf("frame send rate: %w", err)
	}
	if g.MaxAhead, err = atoi(t[4]); err != nil {
		return GameOptions{}, fmt.Errorf("max ahead: %w", err)
	}
	if g.ProtocolVersion, err = atoi(t[5]); err != nil {
		return GameOptions{}, fmt.Errorf("protocol version: %w", err)
	}
	seed, perr := strconv.ParseInt(t[6], 10, 32)
	if perr != nil {
		return GameOptions{}, fmt.Errorf("random seed: %w", ErrMalformed)
	}
	g.RandomSeed = int32(seed)
	if g.RemoveStartingLocations, err = parseBool(t[7]); err != nil {
		return GameOptions{}, fmt.Errorf("remove starting locations: %w", err)
	}
	return g, nil
}
