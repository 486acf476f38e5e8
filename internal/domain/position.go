package domain

import "strings"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ParseSide maps user input onto a position side, case-insensitively.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(SideLong):
		return SideLong, true
	case string(SideShort):
		return SideShort, true
	}
	return "", false
}
