// Copyright 2025 Certen Protocol
//
// JSON-RPC/WebSocket clients for the sending and receiving chains.
// Lisk-family nodes expose a generic JSON-RPC surface (chain_*,
// consensus_*, state_*, interoperability_*, auth_*, txpool_*) rather
// than Ethereum's eth_* namespace, so this package wraps
// go-ethereum/rpc.Client directly instead of ethclient — the same
// dependency the teacher uses for chain access (pkg/ethereum/client.go),
// at the layer that actually fits a non-EVM JSON-RPC dialect.
package rpcclient

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/certen/chainconnector/pkg/chaintypes"
)

// Client is a thin, reconnect-free wrapper over rpc.Client. Grounded
// on pkg/ethereum.Client's constructor/dial shape.
type Client struct {
	rpc *rpc.Client
	url string
}

// Dial connects to a JSON-RPC endpoint. endpoint may be a ws://,
// wss://, http://, https:// URL, or a local IPC path.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	c, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	return &Client{rpc: c, url: endpoint}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// newBlockNotification mirrors the payload of a chain_newBlock push.
type newBlockNotification struct {
	Block chaintypes.BlockHeader `json:"block"`
}

// deleteBlockNotification mirrors the payload of a chain_deleteBlock push.
type deleteBlockNotification struct {
	Block chaintypes.BlockHeader `json:"block"`
}

// SendingChainClient is the RPC surface the observer and certificate
// selector need from the sending chain (spec §4.1, §4.2, §4.4).
type SendingChainClient struct {
	*Client
}

// NewSendingChainClient wraps an already-dialed connection.
func NewSendingChainClient(c *Client) *SendingChainClient {
	return &SendingChainClient{Client: c}
}

// SubscribeNewBlock subscribes to chain_newBlock and forwards decoded
// headers to out until ctx is canceled or the subscription errors.
func (s *SendingChainClient) SubscribeNewBlock(ctx context.Context, out chan<- chaintypes.BlockHeader) (*rpc.ClientSubscription, error) {
	ch := make(chan newBlockNotification, 16)
	sub, err := s.rpc.Subscribe(ctx, "chain", ch, "newBlock")
	if err != nil {
		return nil, fmt.Errorf("subscribing to chain_newBlock: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- n.Block:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

// SubscribeDeleteBlock subscribes to chain_deleteBlock (reorgs).
func (s *SendingChainClient) SubscribeDeleteBlock(ctx context.Context, out chan<- chaintypes.BlockHeader) (*rpc.ClientSubscription, error) {
	ch := make(chan deleteBlockNotification, 16)
	sub, err := s.rpc.Subscribe(ctx, "chain", ch, "deleteBlock")
	if err != nil {
		return nil, fmt.Errorf("subscribing to chain_deleteBlock: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- n.Block:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

// GetEvents fetches the raw event log at a given height.
func (s *SendingChainClient) GetEvents(ctx context.Context, height uint32) ([]chaintypes.RawEvent, error) {
	var result struct {
		Events []chaintypes.RawEvent `json:"events"`
	}
	if err := s.rpc.CallContext(ctx, &result, "chain_getEvents", map[string]uint32{"height": height}); err != nil {
		return nil, fmt.Errorf("chain_getEvents(%d): %w", height, err)
	}
	return result.Events, nil
}

// GetBFTParameters fetches the validator set in effect for a height.
func (s *SendingChainClient) GetBFTParameters(ctx context.Context, height uint32) (*chaintypes.ValidatorsData, error) {
	var result chaintypes.ValidatorsData
	if err := s.rpc.CallContext(ctx, &result, "consensus_getBFTParameters", map[string]uint32{"height": height}); err != nil {
		return nil, fmt.Errorf("consensus_getBFTParameters(%d): %w", height, err)
	}
	return &result, nil
}

// GetBFTHeights fetches the node's current BFT height watermarks.
func (s *SendingChainClient) GetBFTHeights(ctx context.Context) (*chaintypes.BFTHeights, error) {
	var result chaintypes.BFTHeights
	if err := s.rpc.CallContext(ctx, &result, "consensus_getBFTHeights"); err != nil {
		return nil, fmt.Errorf("consensus_getBFTHeights: %w", err)
	}
	return &result, nil
}

// stateProveResult mirrors the state_prove RPC response shape (spec §182).
type stateProveResult struct {
	Proof struct {
		SiblingHashes []chaintypes.HexBytes `json:"siblingHashes"`
		Queries       []struct {
			Bitmap chaintypes.HexBytes `json:"bitmap"`
			Key    chaintypes.HexBytes `json:"key"`
			Value  chaintypes.HexBytes `json:"value"`
		} `json:"queries"`
	} `json:"proof"`
}

// StateProve requests an inclusion proof for a single state key.
func (s *SendingChainClient) StateProve(ctx context.Context, key []byte) (chaintypes.InclusionProof, error) {
	var result stateProveResult
	if err := s.rpc.CallContext(ctx, &result, "state_prove", map[string][][]byte{"queries": {key}}); err != nil {
		return chaintypes.InclusionProof{}, fmt.Errorf("state_prove: %w", err)
	}
	if len(result.Proof.Queries) == 0 {
		return chaintypes.InclusionProof{}, fmt.Errorf("state_prove: no query result for key %x", key)
	}
	return chaintypes.InclusionProof{
		Bitmap:        result.Proof.Queries[0].Bitmap,
		SiblingHashes: result.Proof.SiblingHashes,
	}, nil
}

// GetOwnChainAccount fetches the sending chain's view of itself.
func (s *SendingChainClient) GetOwnChainAccount(ctx context.Context) (*chaintypes.OwnChainAccount, error) {
	var result chaintypes.OwnChainAccount
	if err := s.rpc.CallContext(ctx, &result, "interoperability_getOwnChainAccount"); err != nil {
		return nil, fmt.Errorf("interoperability_getOwnChainAccount: %w", err)
	}
	return &result, nil
}

// ReceivingChainClient is the RPC surface the CCU assembler/submitter
// needs from the receiving chain (spec §4.5).
type ReceivingChainClient struct {
	*Client
}

// NewReceivingChainClient wraps an already-dialed connection.
func NewReceivingChainClient(c *Client) *ReceivingChainClient {
	return &ReceivingChainClient{Client: c}
}

// GetChainAccount fetches the receiving chain's view of the sending
// chain, including C* (the last certified height/state root).
func (r *ReceivingChainClient) GetChainAccount(ctx context.Context, chainID uint32) (*chaintypes.LastCertificate, error) {
	var result struct {
		LastCertificate chaintypes.LastCertificate `json:"lastCertificate"`
	}
	if err := r.rpc.CallContext(ctx, &result, "interoperability_getChainAccount", map[string]uint32{"chainID": chainID}); err != nil {
		return nil, fmt.Errorf("interoperability_getChainAccount(%d): %w", chainID, err)
	}
	return &result.LastCertificate, nil
}

// authAccountResult mirrors auth_getAuthAccount's nonce field.
type authAccountResult struct {
	Nonce uint64 `json:"nonce"`
}

// GetAuthNonce fetches the relayer account's current nonce.
func (r *ReceivingChainClient) GetAuthNonce(ctx context.Context, address []byte) (uint64, error) {
	var result authAccountResult
	if err := r.rpc.CallContext(ctx, &result, "auth_getAuthAccount", map[string][]byte{"address": address}); err != nil {
		return 0, fmt.Errorf("auth_getAuthAccount: %w", err)
	}
	return result.Nonce, nil
}

// nodeInfoResult mirrors the subset of system_getNodeInfo that
// GetNodeHeight reads.
type nodeInfoResult struct {
	Height uint32 `json:"height"`
}

// GetNodeHeight fetches the receiving chain's current tip height.
func (r *ReceivingChainClient) GetNodeHeight(ctx context.Context) (uint32, error) {
	var result nodeInfoResult
	if err := r.rpc.CallContext(ctx, &result, "system_getNodeInfo"); err != nil {
		return 0, fmt.Errorf("system_getNodeInfo: %w", err)
	}
	return result.Height, nil
}

// postTransactionResult mirrors txpool_postTransaction's response.
type postTransactionResult struct {
	TransactionID string `json:"transactionId"`
}

// PostTransaction submits a signed, encoded transaction to the
// receiving chain's transaction pool.
func (r *ReceivingChainClient) PostTransaction(ctx context.Context, encoded []byte) (string, error) {
	var result postTransactionResult
	if err := r.rpc.CallContext(ctx, &result, "txpool_postTransaction", map[string][]byte{"transaction": encoded}); err != nil {
		return "", fmt.Errorf("txpool_postTransaction: %w", err)
	}
	return result.TransactionID, nil
}
