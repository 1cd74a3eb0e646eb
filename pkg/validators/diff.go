// Copyright 2025 Certen Protocol
//
// Validators-Update Builder, per spec §4.3: computes the minimal diff
// between two validator sets as blsKeysUpdate/bftWeightsUpdate/bitmap.
package validators

import (
	"sort"

	"github.com/certen/chainconnector/pkg/chaintypes"
)

// Diff computes the ActiveValidatorsUpdate taking prev to next, and
// the certificateThreshold signal value (0 meaning "unchanged").
func Diff(prev, next chaintypes.ValidatorsData) (chaintypes.ActiveValidatorsUpdate, uint64) {
	if string(next.ValidatorsHash) == string(prev.ValidatorsHash) {
		return chaintypes.ActiveValidatorsUpdate{}, 0
	}

	prevWeight := make(map[string]uint64, len(prev.Validators))
	for _, v := range prev.Validators {
		prevWeight[string(v.BLSKey)] = v.BFTWeight
	}
	nextWeight := make(map[string]uint64, len(next.Validators))
	for _, v := range next.Validators {
		nextWeight[string(v.BLSKey)] = v.BFTWeight
	}

	union := make(map[string]struct{}, len(prevWeight)+len(nextWeight))
	for k := range prevWeight {
		union[k] = struct{}{}
	}
	for k := range nextWeight {
		union[k] = struct{}{}
	}
	orderedUnion := make([]string, 0, len(union))
	for k := range union {
		orderedUnion = append(orderedUnion, k)
	}
	sort.Strings(orderedUnion)

	var blsKeysUpdate []chaintypes.HexBytes
	for _, k := range orderedUnion {
		if _, wasPresent := prevWeight[k]; !wasPresent {
			if _, isPresent := nextWeight[k]; isPresent {
				blsKeysUpdate = append(blsKeysUpdate, chaintypes.HexBytes(k))
			}
		}
	}

	var bftWeightsUpdate []uint64
	bitPositions := make([]bool, len(orderedUnion))
	for i, k := range orderedUnion {
		nw := nextWeight[k] // zero value if k was removed
		pw := prevWeight[k] // zero value if k is newly added
		if nw != pw {
			bftWeightsUpdate = append(bftWeightsUpdate, nw)
			bitPositions[i] = true
		}
	}

	update := chaintypes.ActiveValidatorsUpdate{
		BLSKeysUpdate:          blsKeysUpdate,
		BFTWeightsUpdate:       bftWeightsUpdate,
		BFTWeightsUpdateBitmap: packBitmap(bitPositions),
	}

	threshold := uint64(0)
	if next.CertificateThreshold != prev.CertificateThreshold {
		threshold = next.CertificateThreshold
	}
	return update, threshold
}

// packBitmap packs bits, read in list order as a big-endian bit
// string (bits[0] is the most significant bit of the logical value),
// into the minimal byte string whose bit length equals len(bits),
// right-aligned and padded with leading zero bits up to a byte
// boundary — per spec §4.3's worked example: bits [0,1,1] -> 0b011 ->
// 0x03, not 0b110.
func packBitmap(bits []bool) chaintypes.HexBytes {
	n := len(bits)
	if n == 0 {
		return nil
	}
	out := make([]byte, (n+7)/8)
	for i, set := range bits {
		if !set {
			continue
		}
		bitPos := n - 1 - i // position from the value's LSB
		byteIdx := len(out) - 1 - bitPos/8
		out[byteIdx] |= 1 << uint(bitPos%8)
	}
	return out
}

// Apply reconstructs V_new from V_prev and a diff, the right inverse
// required by spec §8 testable property 4. Used by tests; not part of
// the production update path.
func Apply(prev chaintypes.ValidatorsData, update chaintypes.ActiveValidatorsUpdate, newThreshold uint64, newValidatorsHash chaintypes.HexBytes) chaintypes.ValidatorsData {
	if update.Empty() {
		return prev
	}

	prevWeight := make(map[string]uint64, len(prev.Validators))
	order := make([]string, 0, len(prev.Validators))
	for _, v := range prev.Validators {
		prevWeight[string(v.BLSKey)] = v.BFTWeight
		order = append(order, string(v.BLSKey))
	}
	for _, k := range update.BLSKeysUpdate {
		if _, ok := prevWeight[string(k)]; !ok {
			order = append(order, string(k))
		}
	}
	sort.Strings(order)

	updateIdx := 0
	resultWeight := make(map[string]uint64, len(order))
	for i, k := range order {
		bit := bitSet(update.BFTWeightsUpdateBitmap, i, len(order))
		if bit {
			resultWeight[k] = update.BFTWeightsUpdate[updateIdx]
			updateIdx++
		} else if w, ok := prevWeight[k]; ok {
			resultWeight[k] = w
		}
	}

	threshold := prev.CertificateThreshold
	if newThreshold != 0 {
		threshold = newThreshold
	}

	result := chaintypes.ValidatorsData{
		ValidatorsHash:       newValidatorsHash,
		CertificateThreshold: threshold,
	}
	for _, k := range order {
		w, ok := resultWeight[k]
		if !ok || w == 0 {
			continue
		}
		result.Validators = append(result.Validators, chaintypes.Validator{BLSKey: chaintypes.HexBytes(k), BFTWeight: w})
	}
	return result
}

// bitSet reads logical bit i (0 = most significant, matching
// packBitmap's convention) out of a union of length n.
func bitSet(bitmap []byte, i int, n int) bool {
	bitPos := n - 1 - i
	byteIdx := len(bitmap) - 1 - bitPos/8
	if byteIdx < 0 || byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<uint(bitPos%8)) != 0
}
