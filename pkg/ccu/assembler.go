// Copyright 2025 Certen Protocol
//
// CCU Assembler & Submitter, per spec §4.5. Grounded on the
// commit-and-broadcast shape of pkg/anchor_proof/signer.go and
// pkg/batch/processor.go: build the wire params, sign, post, then
// refresh downstream state.
package ccu

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/certen/chainconnector/pkg/chaintypes"
	"github.com/certen/chainconnector/pkg/keymaterial"
)

// ReceivingChain is the subset of the receiving-chain RPC surface the
// assembler needs (spec §4.5, §6).
type ReceivingChain interface {
	GetAuthNonce(ctx context.Context, address []byte) (uint64, error)
	PostTransaction(ctx context.Context, encoded []byte) (string, error)
	GetChainAccount(ctx context.Context, chainID uint32) (*chaintypes.LastCertificate, error)
}

// Params bundles everything the assembler needs for one CCU.
type Params struct {
	SendingChainID         uint32
	ReceivingChainID       uint32
	OwnChainID             uint32
	ActiveValidatorsUpdate chaintypes.ActiveValidatorsUpdate
	Certificate            chaintypes.Certificate
	CertificateThreshold   uint64
	InboxUpdate            chaintypes.InboxUpdate
	Fee                    uint64
	DryRun                 bool
}

// Assembler builds, signs, and submits CCU transactions.
type Assembler struct {
	receiving ReceivingChain
	key       *keymaterial.RelayerKey
	logger    *log.Logger
}

// New builds an Assembler.
func New(receiving ReceivingChain, key *keymaterial.RelayerKey) *Assembler {
	return &Assembler{
		receiving: receiving,
		key:       key,
		logger:    log.New(log.Writer(), "[CCUAssembler] ", log.LstdFlags),
	}
}

// isMainchain reports whether chainID is the mainchain of ownChainID's
// network: the mainchain ID is ownChainID with its non-network bytes
// zeroed (spec §4.5).
func isMainchain(chainID, ownChainID uint32) bool {
	return chainID == ownChainID&0xFF000000
}

// Submit builds a CrossChainUpdateTransactionParams, signs it, and
// posts it (unless p.DryRun), returning the recorded SentCCU.
func (a *Assembler) Submit(ctx context.Context, p Params) (chaintypes.SentCCU, error) {
	certBytes, err := json.Marshal(p.Certificate)
	if err != nil {
		return chaintypes.SentCCU{}, fmt.Errorf("encoding certificate: %w", err)
	}

	txParams := chaintypes.CrossChainUpdateTransactionParams{
		SendingChainID:         p.SendingChainID,
		ActiveValidatorsUpdate: p.ActiveValidatorsUpdate,
		Certificate:            certBytes,
		CertificateThreshold:   p.CertificateThreshold,
		InboxUpdate:            p.InboxUpdate,
	}
	encodedParams, err := json.Marshal(txParams)
	if err != nil {
		return chaintypes.SentCCU{}, fmt.Errorf("encoding ccu params: %w", err)
	}

	command := chaintypes.CommandSubmitSidechainCCU
	if isMainchain(p.ReceivingChainID, p.OwnChainID) {
		command = chaintypes.CommandSubmitMainchainCCU
	}

	nonce, err := a.receiving.GetAuthNonce(ctx, a.key.Public)
	if err != nil {
		return chaintypes.SentCCU{}, fmt.Errorf("fetching relayer nonce: %w", err)
	}

	tx := chaintypes.Transaction{
		Module:          chaintypes.ModuleInteroperability,
		Command:         command,
		Nonce:           nonce,
		Fee:             p.Fee,
		SenderPublicKey: chaintypes.HexBytes(a.key.Public),
		Params:          chaintypes.HexBytes(encodedParams),
	}

	signingPayload := signingBytes(tx, p.ReceivingChainID)
	signature := a.key.Sign(signingPayload)
	tx.Signatures = []chaintypes.HexBytes{signature}

	encodedTx, err := json.Marshal(tx)
	if err != nil {
		return chaintypes.SentCCU{}, fmt.Errorf("encoding transaction: %w", err)
	}

	rec := chaintypes.SentCCU{
		RequestID:       uuid.NewString(),
		Nonce:           nonce,
		Height:          p.Certificate.Height,
		TransactionBits: chaintypes.HexBytes(encodedTx),
		DryRun:          p.DryRun,
		SubmittedAtUnix: time.Now().Unix(),
	}

	if p.DryRun {
		a.logger.Printf("dry run: recording CCU request=%s nonce=%d height=%d without posting", rec.RequestID, nonce, p.Certificate.Height)
		return rec, nil
	}

	txID, err := a.receiving.PostTransaction(ctx, encodedTx)
	if err != nil {
		return chaintypes.SentCCU{}, fmt.Errorf("posting transaction (request %s): %w", rec.RequestID, err)
	}
	rec.TransactionID = txID
	a.logger.Printf("submitted CCU request=%s nonce=%d height=%d txID=%s", rec.RequestID, nonce, p.Certificate.Height, txID)
	return rec, nil
}

// signingBytes builds the payload to sign: the encoded transaction
// (minus signatures) tagged with the receiving chain ID, per spec
// §4.5 ("signs it with the relayer private key tagged by the
// receiving chain ID").
func signingBytes(tx chaintypes.Transaction, receivingChainID uint32) []byte {
	unsigned := tx
	unsigned.Signatures = nil
	encoded, _ := json.Marshal(unsigned)
	var chainIDBytes [4]byte
	binary.BigEndian.PutUint32(chainIDBytes[:], receivingChainID)
	return append(chainIDBytes[:], encoded...)
}

// RefreshLastCertificate fetches C* from the receiving chain after a
// submission attempt, per spec §4.5 ("After posting, refresh C*").
func (a *Assembler) RefreshLastCertificate(ctx context.Context, sendingChainID uint32) (*chaintypes.LastCertificate, error) {
	lc, err := a.receiving.GetChainAccount(ctx, sendingChainID)
	if err != nil {
		return nil, fmt.Errorf("refreshing last certificate: %w", err)
	}
	return lc, nil
}
