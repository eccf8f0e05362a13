package enums

import "fmt"

// MovementType enumerates the kinds of stock movement the ledger records.
type MovementType string

const (
	MovementTypeIn         MovementType = "in"
	MovementTypeOut        MovementType = "out"
	MovementTypeAdjustment MovementType = "adjustment"
	MovementTypeReserved   MovementType = "reserved"
	MovementTypeReleased   MovementType = "released"
)

var validMovementTypes = []MovementType{
	MovementTypeIn,
	MovementTypeOut,
	MovementTypeAdjustment,
	MovementTypeReserved,
	MovementTypeReleased,
}

// MovementDirection describes how a movement changes the tracked quantity.
type MovementDirection int

const (
	MovementDirectionIncrease MovementDirection = iota
	MovementDirectionDecrease
	MovementDirectionSet
)

// String implements fmt.Stringer.
func (m MovementType) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MovementType.
func (m MovementType) IsValid() bool {
	for _, candidate := range validMovementTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// Direction returns the sign convention for the movement type.
// `in` and `released` add stock back, `out` and `reserved` take it,
// `adjustment` replaces the count outright.
func (m MovementType) Direction() MovementDirection {
	switch m {
	case MovementTypeIn, MovementTypeReleased:
		return MovementDirectionIncrease
	case MovementTypeOut, MovementTypeReserved:
		return MovementDirectionDecrease
	default:
		return MovementDirectionSet
	}
}

// ParseMovementType converts raw input into a MovementType.
func ParseMovementType(value string) (MovementType, error) {
	for _, candidate := range validMovementTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid movement type %q", value)
}
