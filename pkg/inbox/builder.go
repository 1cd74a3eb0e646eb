// Copyright 2025 Certen Protocol
//
// Inbox-Update Builder, per spec §4.4: gathers pending CCMs into a
// size-bounded batch and produces the partial/complete outbox witness
// via pkg/witness.
package inbox

import (
	"encoding/json"
	"fmt"

	"github.com/certen/chainconnector/pkg/chaintypes"
	"github.com/certen/chainconnector/pkg/witness"
)

// Result is the inbox update plus the CCM high-water mark it implies
// once submitted.
type Result struct {
	Update      chaintypes.InboxUpdate
	NewLastSent chaintypes.LastSentCCM
	Empty       bool
}

// orderedCCM pairs a CCM with the height of the record it came from,
// for (height, nonce) ordering.
type orderedCCM struct {
	height uint32
	ccm    chaintypes.CCM
}

// Build assembles the inbox update for the CCM records between
// lastSent (exclusive) and ceilingHeight (inclusive). The caller passes
// the certificate height as ceilingHeight, or, in the partial-only mode
// of spec §4.4 (no new certificate), the observed header height.
func Build(records []chaintypes.CCMsAtHeight, lastSent chaintypes.LastSentCCM, ceilingHeight uint32, maxCCUSize int) (Result, error) {
	ordered := gatherAfter(records, lastSent, ceilingHeight)
	if len(ordered) == 0 {
		return Result{Empty: true, NewLastSent: lastSent}, nil
	}

	included := make([]chaintypes.HexBytes, 0, len(ordered))
	encodedSoFar := 0
	lastIncludedIdx := -1
	for i, oc := range ordered {
		encoded, err := json.Marshal(oc.ccm)
		if err != nil {
			return Result{}, fmt.Errorf("encoding ccm at height %d nonce %d: %w", oc.height, oc.ccm.Nonce, err)
		}
		if encodedSoFar+len(encoded) > maxCCUSize && lastIncludedIdx >= 0 {
			break
		}
		included = append(included, chaintypes.HexBytes(encoded))
		encodedSoFar += len(encoded)
		lastIncludedIdx = i
	}
	if lastIncludedIdx < 0 {
		return Result{Empty: true, NewLastSent: lastSent}, nil
	}

	lastIncluded := ordered[lastIncludedIdx]

	var messageWitnessHashes []chaintypes.HexBytes
	if lastIncludedIdx < len(ordered)-1 {
		// ordered already stops at ceilingHeight (the certificate
		// height, per gatherAfter), so "not everything in ordered made
		// the batch" is exactly spec §4.4's "does not contain all CCMs
		// at the certificate height" — partial, regardless of whether
		// the cut fell mid-height or on a height boundary.
		witnessHashes, err := partialWitness(ordered, lastIncludedIdx)
		if err != nil {
			return Result{}, err
		}
		messageWitnessHashes = witnessHashes
	}

	newLast := chaintypes.LastSentCCM{Height: lastIncluded.height, Nonce: lastIncluded.ccm.Nonce}
	return Result{
		Update: chaintypes.InboxUpdate{
			CrossChainMessages:   included,
			MessageWitnessHashes: messageWitnessHashes,
		},
		NewLastSent: newLast,
	}, nil
}

// gatherAfter collects CCMs with L.height <= M.height <= ceilingHeight,
// skipping anything at or before (L.height, L.nonce), in strict
// (height, index-in-block) order.
func gatherAfter(records []chaintypes.CCMsAtHeight, lastSent chaintypes.LastSentCCM, ceilingHeight uint32) []orderedCCM {
	var out []orderedCCM
	for _, rec := range records {
		if rec.Height < lastSent.Height || rec.Height > ceilingHeight {
			continue
		}
		for _, ccm := range rec.CCMs {
			current := chaintypes.LastSentCCM{Height: rec.Height, Nonce: ccm.Nonce}
			if rec.Height == lastSent.Height && current.LessOrEqual(lastSent) {
				continue
			}
			out = append(out, orderedCCM{height: rec.Height, ccm: ccm})
		}
	}
	return out
}

// partialWitness builds the right-hand sibling path proving that the
// batch's prefix of ordered[0:lastIncludedIdx+1] is valid against the
// root of the full pending set (ordered, already bounded by
// ceilingHeight). Building the tree over the whole candidate batch
// rather than a single height's record means a cut that lands exactly
// on a height boundary (the certificate height's CCMs entirely
// excluded, not merely truncated) still yields a well-formed
// non-trivial proof — there is always at least one included and one
// excluded leaf whenever this is called.
func partialWitness(ordered []orderedCCM, lastIncludedIdx int) ([]chaintypes.HexBytes, error) {
	leaves := make([][]byte, len(ordered))
	for i, oc := range ordered {
		encoded, err := json.Marshal(oc.ccm)
		if err != nil {
			return nil, fmt.Errorf("encoding ccm at height %d nonce %d for witness: %w", oc.height, oc.ccm.Nonce, err)
		}
		leaves[i] = witness.HashLeaf(encoded)
	}

	_, siblingHashes, err := witness.BuildPrefixWitness(leaves, lastIncludedIdx+1)
	if err != nil {
		return nil, fmt.Errorf("building partial witness: %w", err)
	}
	out := make([]chaintypes.HexBytes, len(siblingHashes))
	for i, s := range siblingHashes {
		out[i] = s
	}
	return out, nil
}
