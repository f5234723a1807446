// Package command holds the mediabox remote command vocabulary.
package command

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	Menu    = "MENU"
	Up      = "UP"
	Down    = "DOWN"
	Left    = "LEFT"
	Right   = "RIGHT"
	Back    = "BACK"
	Enter   = "ENTER"
	Stop    = "STOP"
	Play    = "PLAY"
	Info    = "INFO"
	Prev    = "PREV"
	Next    = "NEXT"
	Rewind  = "RW"
	Forward = "FF"
	VolUp   = "VOLUP"
	VolDown = "VOLDOWN"
	Subs    = "SUBS"
	Mute    = "MUTE"
	Clear   = "CLEAR"

	keyPrefix = "KEY:"
)

// All lists the fixed tokens in button order.
var All = []string{
	Menu, Up, Down, Left, Right, Back, Enter, Stop, Play, Info,
	Prev, Next, Rewind, Forward, VolUp, VolDown, Subs, Mute, Clear,
}

// Key returns the token for a typed character. Backspace maps to Clear.
func Key(r rune) string {
	if r == '\b' || r == 0x7f {
		return Clear
	}
	return fmt.Sprintf("%s%c", keyPrefix, unicode.ToUpper(r))
}

// IsKnown reports whether token is a fixed token or a KEY: token.
func IsKnown(token string) bool {
	if strings.HasPrefix(token, keyPrefix) {
		return len([]rune(token)) == len(keyPrefix)+1
	}
	for _, t := range All {
		if t == token {
			return true
		}
	}
	return false
}

// Parse turns a line typed by a user into a token: "key x" becomes "KEY:X",
// anything else is upper-cased. Empty input yields "".
func Parse(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if rest, ok := cutFold(line, "key "); ok {
		r := []rune(rest)
		if len(r) == 1 {
			return Key(r[0])
		}
	}
	return strings.ToUpper(line)
}

func cutFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
