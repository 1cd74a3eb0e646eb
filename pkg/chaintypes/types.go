// Copyright 2025 Certen Protocol
//
// Data model for the chain connector, per spec §3. Every record is
// JSON-serializable (see SPEC_FULL.md §3's encoding decision) so the
// typed store can hand raw KV values straight to json.Marshal/Unmarshal.
package chaintypes

// BlockHeader is the subset of sending-chain header fields the
// connector cares about. Immutable once observed.
type BlockHeader struct {
	ID              HexBytes         `json:"id"`
	Height          uint32           `json:"height"`
	Timestamp       uint32           `json:"timestamp"`
	ValidatorsHash  HexBytes         `json:"validatorsHash"`
	StateRoot       HexBytes         `json:"stateRoot"`
	AggregateCommit *AggregateCommit `json:"aggregateCommit,omitempty"`
}

// AggregateCommit is an aggregated BLS signature over a certifiable
// height. CertificateSignature may be empty, meaning "no commit".
type AggregateCommit struct {
	Height               uint32   `json:"height"`
	AggregationBits      HexBytes `json:"aggregationBits"`
	CertificateSignature HexBytes `json:"certificateSignature"`
}

// Validator is one BLS-keyed, weighted member of a validator set.
type Validator struct {
	BLSKey    HexBytes `json:"blsKey"`
	BFTWeight uint64   `json:"bftWeight"`
}

// ValidatorsData is a validator set as of the block that produced it.
// Validators must be kept sorted lexicographically by BLSKey.
type ValidatorsData struct {
	ValidatorsHash       HexBytes    `json:"validatorsHash"`
	CertificateThreshold uint64      `json:"certificateThreshold"`
	Validators           []Validator `json:"validators"`
}

// CCM is a cross-chain message as emitted by the interoperability
// module of the sending chain.
type CCM struct {
	Module            string   `json:"module"`
	CrossChainCommand string   `json:"crossChainCommand"`
	Nonce             uint64   `json:"nonce"`
	Fee               uint64   `json:"fee"`
	SendingChainID    uint32   `json:"sendingChainID"`
	ReceivingChainID  uint32   `json:"receivingChainID"`
	Params            HexBytes `json:"params"`
	Status            uint32   `json:"status"`
}

// InclusionProof is the outbox-root Merkle witness for a batch of CCMs
// recorded at a given height.
type InclusionProof struct {
	Bitmap        HexBytes   `json:"bitmap"`
	SiblingHashes []HexBytes `json:"siblingHashes"`
}

// CCMsAtHeight is the append-only per-height CCM record (M in spec §3).
type CCMsAtHeight struct {
	Height         uint32         `json:"height"`
	CCMs           []CCM          `json:"ccms"`
	InclusionProof InclusionProof `json:"inclusionProof"`
}

// LastSentCCM (L) marks the high-water mark of CCMs already relayed.
type LastSentCCM struct {
	Height uint32 `json:"height"`
	Nonce  uint64 `json:"nonce"`
}

// Less reports whether l sorts strictly before other in (height, nonce)
// lexicographic order.
func (l LastSentCCM) Less(other LastSentCCM) bool {
	if l.Height != other.Height {
		return l.Height < other.Height
	}
	return l.Nonce < other.Nonce
}

// LessOrEqual reports l <= other in (height, nonce) order.
func (l LastSentCCM) LessOrEqual(other LastSentCCM) bool {
	return l == other || l.Less(other)
}

// Certificate is a BFT-signed commitment to a sending-chain header,
// sufficient for the receiving chain to trust the state root.
type Certificate struct {
	BlockID         HexBytes `json:"blockID"`
	Height          uint32   `json:"height"`
	Timestamp       uint32   `json:"timestamp"`
	StateRoot       HexBytes `json:"stateRoot"`
	ValidatorsHash  HexBytes `json:"validatorsHash"`
	AggregationBits HexBytes `json:"aggregationBits"`
	Signature       HexBytes `json:"signature"`
}

// Empty reports whether c is the zero-value "no certificate" sentinel.
func (c Certificate) Empty() bool {
	return len(c.BlockID) == 0 && c.Height == 0 && len(c.Signature) == 0
}

// LastCertificate (C*) mirrors the receiving chain's view of the
// sending chain.
type LastCertificate struct {
	Height         uint32   `json:"height"`
	Timestamp      uint32   `json:"timestamp"`
	StateRoot      HexBytes `json:"stateRoot"`
	ValidatorsHash HexBytes `json:"validatorsHash"`
}

// ActiveValidatorsUpdate is the minimal diff between two validator sets.
type ActiveValidatorsUpdate struct {
	BLSKeysUpdate          []HexBytes `json:"blsKeysUpdate"`
	BFTWeightsUpdate       []uint64   `json:"bftWeightsUpdate"`
	BFTWeightsUpdateBitmap HexBytes   `json:"bftWeightsUpdateBitmap"`
}

// Empty reports the "no validator change" signal per spec §4.3.
func (u ActiveValidatorsUpdate) Empty() bool {
	return len(u.BLSKeysUpdate) == 0 && len(u.BFTWeightsUpdate) == 0 && len(u.BFTWeightsUpdateBitmap) == 0
}

// InboxUpdate carries the CCM batch and its outbox witness.
type InboxUpdate struct {
	CrossChainMessages   []HexBytes `json:"crossChainMessages"`
	MessageWitnessHashes []HexBytes `json:"messageWitnessHashes"`
}

// CrossChainUpdateTransactionParams is the on-wire CCU payload.
type CrossChainUpdateTransactionParams struct {
	SendingChainID         uint32                 `json:"sendingChainID"`
	ActiveValidatorsUpdate ActiveValidatorsUpdate `json:"activeValidatorsUpdate"`
	Certificate            HexBytes               `json:"certificate"`
	CertificateThreshold   uint64                 `json:"certificateThreshold"`
	InboxUpdate            InboxUpdate            `json:"inboxUpdate"`
}

// Command names for the CCU transaction, chosen by CCU assembly based
// on whether the receiving chain is the mainchain.
const (
	CommandSubmitMainchainCCU = "submitMainchainCCU"
	CommandSubmitSidechainCCU = "submitSidechainCCU"
	ModuleInteroperability    = "interoperability"
)

// Transaction is the signed envelope posted to the receiving chain's
// transaction pool.
type Transaction struct {
	Module          string     `json:"module"`
	Command         string     `json:"command"`
	Nonce           uint64     `json:"nonce"`
	Fee             uint64     `json:"fee"`
	SenderPublicKey HexBytes   `json:"senderPublicKey"`
	Params          HexBytes   `json:"params"`
	Signatures      []HexBytes `json:"signatures"`
}

// SentCCU is the locally recorded record of a submitted transaction,
// kept for observability only.
type SentCCU struct {
	RequestID       string   `json:"requestID"`
	Nonce           uint64   `json:"nonce"`
	Height          uint32   `json:"height"`
	TransactionID   string   `json:"transactionID"`
	TransactionBits HexBytes `json:"transactionBytes"`
	DryRun          bool     `json:"dryRun"`
	SubmittedAtUnix int64    `json:"submittedAtUnix"`
}

// BFTHeights mirrors consensus_getBFTHeights.
type BFTHeights struct {
	MaxHeightPrevoted     uint32 `json:"maxHeightPrevoted"`
	MaxHeightPrecommitted uint32 `json:"maxHeightPrecommitted"`
	MaxHeightCertified    uint32 `json:"maxHeightCertified"`
}

// ChainEventResult values used to filter ccmProcessed events, per
// spec §4.1 step 2.
const (
	CCMStatusForwarded = "FORWARDED"
	CCMStatusBounced   = "BOUNCED"
)

// RawEvent is a single chain_getEvents entry before CCM extraction.
type RawEvent struct {
	Module string   `json:"module"`
	Name   string   `json:"name"`
	Data   HexBytes `json:"data"`
}

// OwnChainAccount mirrors interoperability_getOwnChainAccount.
type OwnChainAccount struct {
	ChainID uint32 `json:"chainID"`
	Name    string `json:"name"`
	Nonce   uint64 `json:"nonce"`
}
