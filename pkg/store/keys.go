// Copyright 2025 Certen Protocol
//
// KV key layout, per spec §6: fixed single-byte prefixes, each value a
// schema encoding (here, JSON — see SPEC_FULL.md §3) of the
// corresponding record or array.
package store

import "encoding/binary"

// Prefixes exactly as spec.md §6.
const (
	prefixBlockHeaders           byte = 0x01
	prefixAggregateCommits       byte = 0x02
	prefixValidatorsHashPreimage byte = 0x03
	prefixCrossChainMessages     byte = 0x04
	prefixLastSentCCM            byte = 0x05
	prefixListOfCCUs             byte = 0x06
	prefixCertificates           byte = 0x07

	// prefixMeta is an internal bookkeeping prefix, not part of the
	// spec's KV layout: it lets the store answer "which heights/
	// validatorsHashes/nonces exist" without requiring a range-scan
	// capability from the underlying KV (see SPEC_FULL.md §4.7).
	prefixMeta byte = 0x00
)

func beU32(h uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, h)
	return b
}

func beU64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func headerKey(height uint32) []byte {
	return append([]byte{prefixBlockHeaders}, beU32(height)...)
}

func aggregateCommitKey(height uint32) []byte {
	return append([]byte{prefixAggregateCommits}, beU32(height)...)
}

func validatorsKey(validatorsHash []byte) []byte {
	return append([]byte{prefixValidatorsHashPreimage}, validatorsHash...)
}

func ccmKey(height uint32) []byte {
	return append([]byte{prefixCrossChainMessages}, beU32(height)...)
}

func lastSentCCMKey() []byte {
	return []byte{prefixLastSentCCM}
}

func ccuKey(nonce uint64) []byte {
	return append([]byte{prefixListOfCCUs}, beU64(nonce)...)
}

func lastCertificateKey() []byte {
	return []byte{prefixCertificates}
}

func metaKey() []byte {
	return []byte{prefixMeta}
}
