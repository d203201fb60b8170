// Package blood defines blood typing primitives shared across the engine.
package blood

import "fmt"

// Group represents an ABO/Rh blood group.
type Group string

const (
	APositive  Group = "A+"
	ANegative  Group = "A-"
	BPositive  Group = "B+"
	BNegative  Group = "B-"
	ABPositive Group = "AB+"
	ABNegative Group = "AB-"
	OPositive  Group = "O+"
	ONegative  Group = "O-"
)

// Groups lists every valid blood group.
var Groups = []Group{
	APositive, ANegative,
	BPositive, BNegative,
	ABPositive, ABNegative,
	OPositive, ONegative,
}

// Valid reports whether g is one of the eight ABO/Rh groups.
func (g Group) Valid() bool {
	switch g {
	case APositive, ANegative, BPositive, BNegative,
		ABPositive, ABNegative, OPositive, ONegative:
		return true
	}
	return false
}

func (g Group) String() string { return string(g) }

// Parse converts a string into a Group.
func Parse(s string) (Group, error) {
	g := Group(s)
	if !g.Valid() {
		return "", fmt.Errorf("invalid blood group %q", s)
	}
	return g, nil
}
