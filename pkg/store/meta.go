// Copyright 2025 Certen Protocol

package store

import "github.com/certen/chainconnector/pkg/chaintypes"

// meta is bookkeeping the store needs to answer range/membership
// questions without a KV iterator. Grounded on the teacher's
// pkg/ledger SystemLedgerMeta/AnchorLedgerMeta pattern: one small
// global record, read-modify-written alongside every mutation.
type meta struct {
	HasHeaders    bool                  `json:"hasHeaders"`
	OldestHeight  uint32                `json:"oldestHeight"`
	TipHeight     uint32                `json:"tipHeight"`
	ValidatorsSet []chaintypes.HexBytes `json:"validatorsSet"`
	CCUNonces     []uint64              `json:"ccuNonces"`
}

func (m *meta) addValidatorsHash(hash chaintypes.HexBytes) {
	for _, h := range m.ValidatorsSet {
		if h.Equal(hash) {
			return
		}
	}
	m.ValidatorsSet = append(m.ValidatorsSet, hash)
}

func (m *meta) removeValidatorsHash(hash chaintypes.HexBytes) {
	out := m.ValidatorsSet[:0]
	for _, h := range m.ValidatorsSet {
		if !h.Equal(hash) {
			out = append(out, h)
		}
	}
	m.ValidatorsSet = out
}

func (m *meta) addCCUNonce(nonce uint64) {
	for _, n := range m.CCUNonces {
		if n == nonce {
			return
		}
	}
	m.CCUNonces = append(m.CCUNonces, nonce)
}
