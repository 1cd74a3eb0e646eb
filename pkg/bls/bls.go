// Copyright 2025 Certen Protocol
//
// BLS12-381 signatures for certificate verification.
//
// Keys live in G1 (48-byte compressed points, matching the spec's
// blsKey: bytes48) and signatures live in G2 (96-byte compressed
// points) — the minimal-pubkey-size convention. This mirrors the
// teacher's pkg/crypto/bls/bls.go API shape (PrivateKey/PublicKey/
// Signature wrapper types, Sign/Verify/Aggregate*/VerifyAggregate*
// free functions, domain-separated variants) with the two groups
// swapped to match the wire sizes the certificate selector expects.
package bls

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

const (
	// PublicKeySize is the compressed G1 point size.
	PublicKeySize = 48
	// SignatureSize is the compressed G2 point size.
	SignatureSize = 96

	// MessageTagCertificate is the domain separation tag used when
	// signing/verifying a Certificate, per spec.md §4.2.
	MessageTagCertificate = "MESSAGE_TAG_CERTIFICATE"
)

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

func initialize() {
	initOnce.Do(func() {
		_, _, g1, g2 := bls12381.Generators()
		g1Gen = g1
		g2Gen = g2
	})
}

// PrivateKey is a BLS secret scalar.
type PrivateKey struct {
	scalar fr.Element
}

// PublicKey is a point on G1.
type PublicKey struct {
	point bls12381.G1Affine
}

// Signature is a point on G2.
type Signature struct {
	point bls12381.G2Affine
}

// GenerateKeyPair produces a fresh random keypair, for tests and tooling.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	initialize()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("generate random scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// PublicKeyFromBytes decodes a compressed G1 point.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("bls public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	var p bls12381.G1Affine
	var buf [PublicKeySize]byte
	copy(buf[:], data)
	if _, err := p.SetBytes(buf[:]); err != nil {
		return nil, fmt.Errorf("decode bls public key: %w", err)
	}
	return &PublicKey{point: p}, nil
}

// SignatureFromBytes decodes a compressed G2 point.
func SignatureFromBytes(data []byte) (*Signature, error) {
	if len(data) != SignatureSize {
		return nil, fmt.Errorf("bls signature must be %d bytes, got %d", SignatureSize, len(data))
	}
	var p bls12381.G2Affine
	var buf [SignatureSize]byte
	copy(buf[:], data)
	if _, err := p.SetBytes(buf[:]); err != nil {
		return nil, fmt.Errorf("decode bls signature: %w", err)
	}
	return &Signature{point: p}, nil
}

func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

// PublicKey derives the public key (G1) for a private key.
func (sk *PrivateKey) PublicKey() *PublicKey {
	initialize()
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	var pk bls12381.G1Affine
	pk.ScalarMultiplication(&g1Gen, &skBig)
	return &PublicKey{point: pk}
}

// SignWithDomain signs domain||message, hashed onto G2.
func (sk *PrivateKey) SignWithDomain(domain string, message []byte) *Signature {
	initialize()
	h := hashToG2(domainMessage(domain, message))
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	var sig bls12381.G2Affine
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

// AggregatePublicKeys sums public keys on G1.
func AggregatePublicKeys(keys []*PublicKey) (*PublicKey, error) {
	if len(keys) == 0 {
		return nil, errors.New("no public keys to aggregate")
	}
	initialize()
	var agg bls12381.G1Jac
	agg.FromAffine(&keys[0].point)
	for _, k := range keys[1:] {
		var j bls12381.G1Jac
		j.FromAffine(&k.point)
		agg.AddAssign(&j)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&agg)
	return &PublicKey{point: result}, nil
}

// AggregateSignatures sums signatures on G2. Exposed for tooling/tests
// that need to build a synthetic aggregate commit.
func AggregateSignatures(sigs []*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, errors.New("no signatures to aggregate")
	}
	initialize()
	var agg bls12381.G2Jac
	agg.FromAffine(&sigs[0].point)
	for _, s := range sigs[1:] {
		var j bls12381.G2Jac
		j.FromAffine(&s.point)
		agg.AddAssign(&j)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&agg)
	return &Signature{point: result}, nil
}

// VerifyAggregateWithDomain verifies an aggregate G2 signature against an
// aggregate G1 public key and domain||message, via a single pairing check:
//
//	e(aggPk, H(domain||message)) == e(G1Gen, aggSig)
//
// which is checked as e(aggPk, H) * e(-G1Gen, aggSig) == 1.
func VerifyAggregateWithDomain(aggSig *Signature, aggPk *PublicKey, domain string, message []byte) bool {
	if aggSig == nil || aggPk == nil {
		return false
	}
	initialize()
	h := hashToG2(domainMessage(domain, message))

	var negG1 bls12381.G1Affine
	negG1.Neg(&g1Gen)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{aggPk.point, negG1},
		[]bls12381.G2Affine{h, aggSig.point},
	)
	if err != nil {
		return false
	}
	return ok
}

func domainMessage(domain string, message []byte) []byte {
	buf := make([]byte, 0, len(domain)+len(message))
	buf = append(buf, []byte(domain)...)
	buf = append(buf, message...)
	return buf
}

// hashToG2 deterministically maps arbitrary bytes onto a point in G2 by
// repeated rehash-and-scalar-multiply, the same "hash and pray" approach
// the teacher's hashToG1 uses for G1.
func hashToG2(message []byte) bls12381.G2Affine {
	initialize()
	h := sha256.Sum256(message)
	var counter uint32
	for {
		var buf [36]byte
		copy(buf[:32], h[:])
		binary.BigEndian.PutUint32(buf[32:], counter)
		digest := sha256.Sum256(buf[:])

		var scalar fr.Element
		scalar.SetBytes(digest[:])
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)

		if scalarBig.Sign() != 0 {
			var p bls12381.G2Affine
			p.ScalarMultiplication(&g2Gen, &scalarBig)
			return p
		}
		counter++
	}
}
