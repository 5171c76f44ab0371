package engine

import (
	"errors"
	"fmt"
	"strings"
)

// MaxNameLength is the longest nickname the chat network accepts.
const MaxNameLength = 16

var ErrInvalidName = errors.New("invalid player name")

const nameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_[]|\\{}^`"

// ValidName checks a nickname against the characters the chat network and
// the PO roster encoding can carry. A leading digit would read as an AI
// skill level on the wire.
func ValidName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name[0] >= '0' && name[0] <= '9':
		return fmt.Errorf("%w: %q starts with a digit", ErrInvalidName, name)
	case name[0] == '-':
		return fmt.Errorf("%w: %q starts with a dash", ErrInvalidName, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidName, name, MaxNameLength)
	}
	for _, r := range name {
		if !strings.ContainsRune(nameChars, r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, r)
		}
	}
	return nil
}
