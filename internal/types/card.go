package types

import (
	"fmt"
	"strconv"
)

// CardID identifies a text card being clustered. IDs are positive and fit
// in 32 bits because sentence occurrence records pack them into 4 bytes.
type CardID uint32

// String returns the decimal form used in KV hash fields and queue payloads.
func (id CardID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseCardID parses the decimal form of a card ID.
func ParseCardID(s string) (CardID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid card ID %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid card ID %q: must be positive", s)
	}
	return CardID(n), nil
}
