package model

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// MarketID is an opaque 32-byte market identifier, rendered as 64 lowercase
// hex characters on the wire and in storage.
type MarketID [32]byte

// ErrInvalidMarketID is returned when an identifier is not 64 hex characters.
var ErrInvalidMarketID = errors.New("model: market id must be 64 hex characters")

// ParseMarketID parses and validates the hex representation of a market id.
func ParseMarketID(s string) (MarketID, error) {
	var id MarketID
	if len(s) != 64 {
		return id, fmt.Errorf("%w: got %d characters", ErrInvalidMarketID, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %s", ErrInvalidMarketID, s)
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the lowercase hex encoding.
func (id MarketID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id MarketID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *MarketID) UnmarshalText(text []byte) error {
	parsed, err := ParseMarketID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
