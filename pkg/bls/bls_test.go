// Copyright 2025 Certen Protocol

package bls

import "testing"

func TestSignAndVerifySingle(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	message := []byte("certificate payload")
	sig := sk.SignWithDomain(MessageTagCertificate, message)

	if !VerifyAggregateWithDomain(sig, pk, MessageTagCertificate, message) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	sig := sk.SignWithDomain(MessageTagCertificate, []byte("original"))
	if VerifyAggregateWithDomain(sig, pk, MessageTagCertificate, []byte("tampered")) {
		t.Fatal("expected verification to fail on tampered message")
	}
}

func TestVerifyRejectsWrongDomain(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	message := []byte("certificate payload")
	sig := sk.SignWithDomain(MessageTagCertificate, message)
	if VerifyAggregateWithDomain(sig, pk, "OTHER_TAG", message) {
		t.Fatal("expected verification to fail on mismatched domain tag")
	}
}

func TestAggregateVerification(t *testing.T) {
	const n = 5
	message := []byte("weighted threshold certificate")

	pubKeys := make([]*PublicKey, 0, n)
	sigs := make([]*Signature, 0, n)
	for i := 0; i < n; i++ {
		sk, pk, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate key pair %d: %v", i, err)
		}
		pubKeys = append(pubKeys, pk)
		sigs = append(sigs, sk.SignWithDomain(MessageTagCertificate, message))
	}

	aggPk, err := AggregatePublicKeys(pubKeys)
	if err != nil {
		t.Fatalf("aggregate public keys: %v", err)
	}
	aggSig, err := AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("aggregate signatures: %v", err)
	}

	if !VerifyAggregateWithDomain(aggSig, aggPk, MessageTagCertificate, message) {
		t.Fatal("expected aggregate signature to verify")
	}
}

func TestAggregateVerificationFailsOnSubsetMismatch(t *testing.T) {
	message := []byte("weighted threshold certificate")

	sk1, pk1, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair 1: %v", err)
	}
	sk2, pk2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair 2: %v", err)
	}

	aggPk, err := AggregatePublicKeys([]*PublicKey{pk1, pk2})
	if err != nil {
		t.Fatalf("aggregate public keys: %v", err)
	}
	// Only one of the two signers actually signs.
	sig1 := sk1.SignWithDomain(MessageTagCertificate, message)
	_ = sk2

	if VerifyAggregateWithDomain(sig1, aggPk, MessageTagCertificate, message) {
		t.Fatal("expected verification to fail when aggregate public key doesn't match the signer set")
	}
}

func TestPublicKeyAndSignatureRoundTrip(t *testing.T) {
	_, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	decoded, err := PublicKeyFromBytes(pk.Bytes())
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if string(decoded.Bytes()) != string(pk.Bytes()) {
		t.Fatal("public key round trip mismatch")
	}

	if _, err := PublicKeyFromBytes(make([]byte, PublicKeySize-1)); err == nil {
		t.Fatal("expected error decoding undersized public key")
	}
	if _, err := SignatureFromBytes(make([]byte, SignatureSize+1)); err == nil {
		t.Fatal("expected error decoding oversized signature")
	}
}
