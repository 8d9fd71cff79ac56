package model

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome is one of the two complementary sides of a binary market.
// The zero value is not valid; use ParseOutcome at the boundary.
type Outcome uint8

const (
	OutcomeYes Outcome = 1
	OutcomeNo  Outcome = 2
)

// ErrInvalidOutcome is returned for anything other than YES or NO.
var ErrInvalidOutcome = errors.New("model: outcome must be YES or NO")

// ParseOutcome converts the wire representation to an Outcome. Matching is
// case-insensitive.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(s) {
	case "YES":
		return OutcomeYes, nil
	case "NO":
		return OutcomeNo, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
}

// Valid reports whether o is one of the two defined outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "YES"
	case OutcomeNo:
		return "NO"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, ErrInvalidOutcome
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
