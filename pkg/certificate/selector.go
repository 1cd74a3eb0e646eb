// Copyright 2025 Certen Protocol
//
// Certificate Selector: turns aggregate commits into a verified
// Certificate, per spec §4.2. Grounded on the scanning/selection shape
// of pkg/batch/scheduler.go's cadence checks, with verification
// delegated to pkg/bls (the teacher's pkg/crypto/bls adapted for
// G1 public keys / G2 signatures).
package certificate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/certen/chainconnector/pkg/bls"
	"github.com/certen/chainconnector/pkg/chaintypes"
)

// ErrNoCertificate is returned (not wrapped as a hard error) when no
// candidate aggregate commit verifies — a recoverable outcome per
// spec §4.2 step 5 and §7 ("Signature invalid ... move to next
// candidate silently").
var ErrNoCertificate = errors.New("certificate: no verifiable candidate")

// ErrMissingPrecondition covers "candidate references a header or
// validator set the store doesn't have" — spec §7's "Missing
// precondition" class.
var ErrMissingPrecondition = errors.New("certificate: missing header or validators for candidate")

// Store is the subset of the typed store the selector reads.
type Store interface {
	GetHeader(height uint32) (*chaintypes.BlockHeader, error)
	GetValidators(validatorsHash chaintypes.HexBytes) (*chaintypes.ValidatorsData, error)
}

// Selector chooses the highest verifiable aggregate commit.
type Selector struct {
	store  Store
	logger *log.Logger
}

// New builds a Selector over store.
func New(store Store) *Selector {
	return &Selector{
		store:  store,
		logger: log.New(log.Writer(), "[CertificateSelector] ", log.LstdFlags),
	}
}

// Select implements spec §4.2's algorithm: candidates are aggregate
// commits strictly above C*.height and at or below
// bftHeights.maxHeightCertified with a non-empty signature, tried
// highest-height first.
func (s *Selector) Select(
	aggregateCommits []chaintypes.AggregateCommit,
	lastCert chaintypes.LastCertificate,
	maxHeightCertified uint32,
) (*chaintypes.Certificate, error) {
	candidates := make([]chaintypes.AggregateCommit, 0, len(aggregateCommits))
	for _, ac := range aggregateCommits {
		if ac.Height > lastCert.Height && ac.Height <= maxHeightCertified && len(ac.CertificateSignature) > 0 {
			candidates = append(candidates, ac)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Height > candidates[j].Height })

	for _, ac := range candidates {
		header, err := s.store.GetHeader(ac.Height)
		if err != nil {
			return nil, fmt.Errorf("%w: header at height %d: %v", ErrMissingPrecondition, ac.Height, err)
		}
		validators, err := s.store.GetValidators(header.ValidatorsHash)
		if err != nil {
			return nil, fmt.Errorf("%w: validators %x: %v", ErrMissingPrecondition, header.ValidatorsHash, err)
		}

		cert := chaintypes.Certificate{
			BlockID:         header.ID,
			Height:          header.Height,
			Timestamp:       header.Timestamp,
			StateRoot:       header.StateRoot,
			ValidatorsHash:  header.ValidatorsHash,
			AggregationBits: ac.AggregationBits,
			Signature:       ac.CertificateSignature,
		}

		ok, err := verify(cert, *validators)
		if err != nil {
			s.logger.Printf("candidate at height %d: verification error: %v", ac.Height, err)
			continue
		}
		if !ok {
			s.logger.Printf("candidate at height %d: signature does not verify, trying next", ac.Height)
			continue
		}
		return &cert, nil
	}
	return nil, ErrNoCertificate
}

// verify checks the weighted BLS aggregate signature over cert (minus
// its own aggregation bits and signature) against validators, per
// spec §4.2 step 4.
func verify(cert chaintypes.Certificate, validators chaintypes.ValidatorsData) (bool, error) {
	selected, err := selectByBitmap(validators.Validators, cert.AggregationBits)
	if err != nil {
		return false, err
	}

	var weightSum uint64
	pubKeys := make([]*bls.PublicKey, 0, len(selected))
	for _, v := range selected {
		weightSum += v.BFTWeight
		pk, err := bls.PublicKeyFromBytes(v.BLSKey)
		if err != nil {
			return false, fmt.Errorf("decoding validator BLS key %x: %w", v.BLSKey, err)
		}
		pubKeys = append(pubKeys, pk)
	}
	if weightSum < validators.CertificateThreshold {
		// Cheap rejection before any pairing work, per spec §4.8.
		return false, nil
	}

	aggPk, err := bls.AggregatePublicKeys(pubKeys)
	if err != nil {
		return false, fmt.Errorf("aggregating public keys: %w", err)
	}
	sig, err := bls.SignatureFromBytes(cert.Signature)
	if err != nil {
		return false, fmt.Errorf("decoding certificate signature: %w", err)
	}

	message := encodeCertificateForSigning(cert)
	return bls.VerifyAggregateWithDomain(sig, aggPk, bls.MessageTagCertificate, message), nil
}

// selectByBitmap decodes aggregationBits as a big-endian bitmap over
// validators sorted by blsKey (spec §3: "sorted lexicographically by
// blsKey"), returning the subset whose bit is set.
func selectByBitmap(validators []chaintypes.Validator, bitmap []byte) ([]chaintypes.Validator, error) {
	if len(bitmap)*8 < len(validators) {
		return nil, fmt.Errorf("aggregation bitmap too short: %d bits for %d validators", len(bitmap)*8, len(validators))
	}
	sorted := append([]chaintypes.Validator(nil), validators...)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i].BLSKey) < string(sorted[j].BLSKey)
	})

	selected := make([]chaintypes.Validator, 0, len(sorted))
	for i, v := range sorted {
		byteIdx := len(bitmap) - 1 - i/8
		if byteIdx < 0 {
			break
		}
		if bitmap[byteIdx]&(1<<uint(i%8)) != 0 {
			selected = append(selected, v)
		}
	}
	return selected, nil
}

// encodeCertificateForSigning serializes the certificate fields that
// are signed over: everything except aggregationBits and signature
// themselves (spec §4.2 step 4).
func encodeCertificateForSigning(cert chaintypes.Certificate) []byte {
	buf := make([]byte, 0, 4+4+32+32)
	buf = append(buf, cert.BlockID...)
	var height [4]byte
	binary.BigEndian.PutUint32(height[:], cert.Height)
	buf = append(buf, height[:]...)
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], cert.Timestamp)
	buf = append(buf, ts[:]...)
	buf = append(buf, cert.StateRoot...)
	buf = append(buf, cert.ValidatorsHash...)
	return buf
}
