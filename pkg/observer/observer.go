// Copyright 2025 Certen Protocol
//
// Block/Event Observer, per spec §4.1: subscribes to the sending
// chain and maintains the store. Grounded loosely on
// pkg/anchor/event_watcher.go's event-to-record extraction shape,
// adapted from EVM log/ABI decoding to the sending chain's
// chain_getEvents JSON event envelope.
package observer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"

	"github.com/certen/chainconnector/pkg/chaintypes"
)

// outboxStorePrefix namespaces the outbox key requested from
// state_prove (spec §4.1 step 3: "concat(outboxStorePrefix, ownChainID)").
var outboxStorePrefix = []byte{0x83, 0x00, 0x00, 0x00}

const (
	eventModuleInteroperability = "interoperability"
	eventNameCCMSendSuccess     = "ccmSendSuccess"
	eventNameCCMProcessed       = "ccmProcessed"
)

// ccmSendSuccessData is the decoded payload of a ccmSendSuccess event:
// the CCM itself.
type ccmSendSuccessData struct {
	CCM chaintypes.CCM `json:"ccm"`
}

// ccmProcessedData is the decoded payload of a ccmProcessed event: the
// CCM plus the processing result.
type ccmProcessedData struct {
	CCM    chaintypes.CCM `json:"ccm"`
	Result string         `json:"result"`
}

// SendingChain is the RPC surface the observer needs (spec §4.1).
type SendingChain interface {
	GetEvents(ctx context.Context, height uint32) ([]chaintypes.RawEvent, error)
	GetBFTParameters(ctx context.Context, height uint32) (*chaintypes.ValidatorsData, error)
	StateProve(ctx context.Context, key []byte) (chaintypes.InclusionProof, error)
}

// Store is the subset of the typed store the observer writes.
type Store interface {
	PutHeader(h chaintypes.BlockHeader) error
	DeleteHeader(height uint32) error
	PutAggregateCommit(ac chaintypes.AggregateCommit) error
	DeleteAggregateCommit(height uint32) error
	PutValidators(v chaintypes.ValidatorsData) error
	DeleteValidators(validatorsHash chaintypes.HexBytes) error
	PutCCMsAtHeight(rec chaintypes.CCMsAtHeight) error
}

// Config carries the observer's chain identity, per spec §4.1 step 3.
type Config struct {
	OwnChainID uint32
	// ForwardBouncedCCMs extends the ccmProcessed filter to also
	// include result == BOUNCED, per spec §9's open question; the
	// default (false) implements the documented FORWARDED-only filter.
	ForwardBouncedCCMs bool
}

// Observer implements onNewBlock/onDeleteBlock.
type Observer struct {
	cfg    Config
	chain  SendingChain
	store  Store
	logger *log.Logger
}

// New builds an Observer.
func New(cfg Config, chain SendingChain, store Store) *Observer {
	return &Observer{
		cfg:    cfg,
		chain:  chain,
		store:  store,
		logger: log.New(log.Writer(), "[Observer] ", log.LstdFlags),
	}
}

// OnNewBlock implements spec §4.1's onNewBlock algorithm. An RPC or
// store failure returns an error before the header is persisted, so
// the next newBlock retries; a malformed event is logged and skipped,
// and the rest of the block is still processed.
func (o *Observer) OnNewBlock(ctx context.Context, header chaintypes.BlockHeader) error {
	ccms, err := o.gatherCCMs(ctx, header.Height)
	if err != nil {
		return fmt.Errorf("gathering ccms at height %d: %w", header.Height, err)
	}

	if len(ccms) > 0 {
		proof, err := o.chain.StateProve(ctx, outboxKey(o.cfg.OwnChainID))
		if err != nil {
			return fmt.Errorf("proving outbox at height %d: %w", header.Height, err)
		}
		if err := o.store.PutCCMsAtHeight(chaintypes.CCMsAtHeight{
			Height:         header.Height,
			CCMs:           ccms,
			InclusionProof: proof,
		}); err != nil {
			return fmt.Errorf("persisting ccms at height %d: %w", header.Height, err)
		}
	}

	validators, err := o.chain.GetBFTParameters(ctx, header.Height)
	if err != nil {
		return fmt.Errorf("fetching bft parameters at height %d: %w", header.Height, err)
	}
	if len(validators.ValidatorsHash) > 0 {
		if err := o.store.PutValidators(*validators); err != nil {
			return fmt.Errorf("persisting validators at height %d: %w", header.Height, err)
		}
	}

	if header.AggregateCommit != nil {
		if err := o.store.PutAggregateCommit(*header.AggregateCommit); err != nil {
			return fmt.Errorf("persisting aggregate commit at height %d: %w", header.Height, err)
		}
	}

	if err := o.store.PutHeader(header); err != nil {
		return fmt.Errorf("persisting header at height %d: %w", header.Height, err)
	}
	return nil
}

// OnDeleteBlock implements spec §4.1's onDeleteBlock: removes H and AC
// strictly matching header.height, and V matching header.validatorsHash.
// M is left untouched; the orchestrator's Cleanup prunes it later.
func (o *Observer) OnDeleteBlock(ctx context.Context, header chaintypes.BlockHeader) error {
	if err := o.store.DeleteHeader(header.Height); err != nil {
		return fmt.Errorf("deleting header %d: %w", header.Height, err)
	}
	if err := o.store.DeleteAggregateCommit(header.Height); err != nil {
		return fmt.Errorf("deleting aggregate commit %d: %w", header.Height, err)
	}
	if len(header.ValidatorsHash) > 0 {
		if err := o.store.DeleteValidators(header.ValidatorsHash); err != nil {
			return fmt.Errorf("deleting validators %x: %w", header.ValidatorsHash, err)
		}
	}
	return nil
}

// gatherCCMs implements spec §4.1 step 2.
func (o *Observer) gatherCCMs(ctx context.Context, height uint32) ([]chaintypes.CCM, error) {
	events, err := o.chain.GetEvents(ctx, height)
	if err != nil {
		return nil, err
	}

	var ccms []chaintypes.CCM
	for _, ev := range events {
		if ev.Module != eventModuleInteroperability {
			continue
		}
		switch ev.Name {
		case eventNameCCMSendSuccess:
			var data ccmSendSuccessData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				o.logger.Printf("skipping malformed ccmSendSuccess at height %d: %v", height, err)
				continue
			}
			ccms = append(ccms, data.CCM)

		case eventNameCCMProcessed:
			var data ccmProcessedData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				o.logger.Printf("skipping malformed ccmProcessed at height %d: %v", height, err)
				continue
			}
			if data.Result == chaintypes.CCMStatusForwarded ||
				(o.cfg.ForwardBouncedCCMs && data.Result == chaintypes.CCMStatusBounced) {
				ccms = append(ccms, data.CCM)
			}
		}
	}
	return ccms, nil
}

// outboxKey builds concat(outboxStorePrefix, ownChainID).
func outboxKey(ownChainID uint32) []byte {
	var chainIDBytes [4]byte
	binary.BigEndian.PutUint32(chainIDBytes[:], ownChainID)
	out := make([]byte, 0, len(outboxStorePrefix)+4)
	out = append(out, outboxStorePrefix...)
	out = append(out, chainIDBytes[:]...)
	return out
}
