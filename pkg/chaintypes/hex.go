// Copyright 2025 Certen Protocol

package chaintypes

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HexBytes is a variable-length byte slice that marshals to/from JSON as
// a hex string, matching the hex-encoded conventions the teacher uses
// throughout pkg/merkle and pkg/anchor for bytes32/address fields.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode hex bytes: %w", err)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode hex bytes: %w", err)
	}
	*h = b
	return nil
}

func (h HexBytes) Equal(other HexBytes) bool {
	return bytes.Equal(h, other)
}

func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}
