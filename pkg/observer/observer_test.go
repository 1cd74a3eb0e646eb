// Copyright 2025 Certen Protocol

package observer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/certen/chainconnector/pkg/chaintypes"
)

type fakeChain struct {
	events        []chaintypes.RawEvent
	eventsErr     error
	validators    chaintypes.ValidatorsData
	validatorsErr error
	proof         chaintypes.InclusionProof
	proveErr      error
	provedKey     []byte
}

func (f *fakeChain) GetEvents(ctx context.Context, height uint32) ([]chaintypes.RawEvent, error) {
	return f.events, f.eventsErr
}

func (f *fakeChain) GetBFTParameters(ctx context.Context, height uint32) (*chaintypes.ValidatorsData, error) {
	if f.validatorsErr != nil {
		return nil, f.validatorsErr
	}
	v := f.validators
	return &v, nil
}

func (f *fakeChain) StateProve(ctx context.Context, key []byte) (chaintypes.InclusionProof, error) {
	f.provedKey = key
	return f.proof, f.proveErr
}

type fakeStore struct {
	headers           map[uint32]chaintypes.BlockHeader
	aggregateCommits  map[uint32]chaintypes.AggregateCommit
	validators        map[string]chaintypes.ValidatorsData
	ccmsAtHeight      map[uint32]chaintypes.CCMsAtHeight
	deletedHeaders    []uint32
	deletedCommits    []uint32
	deletedValidators []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		headers:          make(map[uint32]chaintypes.BlockHeader),
		aggregateCommits: make(map[uint32]chaintypes.AggregateCommit),
		validators:       make(map[string]chaintypes.ValidatorsData),
		ccmsAtHeight:     make(map[uint32]chaintypes.CCMsAtHeight),
	}
}

func (s *fakeStore) PutHeader(h chaintypes.BlockHeader) error {
	s.headers[h.Height] = h
	return nil
}

func (s *fakeStore) DeleteHeader(height uint32) error {
	s.deletedHeaders = append(s.deletedHeaders, height)
	delete(s.headers, height)
	return nil
}

func (s *fakeStore) PutAggregateCommit(ac chaintypes.AggregateCommit) error {
	s.aggregateCommits[ac.Height] = ac
	return nil
}

func (s *fakeStore) DeleteAggregateCommit(height uint32) error {
	s.deletedCommits = append(s.deletedCommits, height)
	delete(s.aggregateCommits, height)
	return nil
}

func (s *fakeStore) PutValidators(v chaintypes.ValidatorsData) error {
	s.validators[string(v.ValidatorsHash)] = v
	return nil
}

func (s *fakeStore) DeleteValidators(hash chaintypes.HexBytes) error {
	s.deletedValidators = append(s.deletedValidators, string(hash))
	delete(s.validators, string(hash))
	return nil
}

func (s *fakeStore) PutCCMsAtHeight(rec chaintypes.CCMsAtHeight) error {
	s.ccmsAtHeight[rec.Height] = rec
	return nil
}

func rawEvent(t *testing.T, module, name string, payload interface{}) chaintypes.RawEvent {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return chaintypes.RawEvent{Module: module, Name: name, Data: encoded}
}

func TestOnNewBlockGathersOnlyForwardedByDefault(t *testing.T) {
	ccmForwarded := chaintypes.CCM{Nonce: 1, SendingChainID: 1}
	ccmBounced := chaintypes.CCM{Nonce: 2, SendingChainID: 1}
	chain := &fakeChain{
		events: []chaintypes.RawEvent{
			rawEvent(t, eventModuleInteroperability, eventNameCCMProcessed, ccmProcessedData{CCM: ccmForwarded, Result: chaintypes.CCMStatusForwarded}),
			rawEvent(t, eventModuleInteroperability, eventNameCCMProcessed, ccmProcessedData{CCM: ccmBounced, Result: chaintypes.CCMStatusBounced}),
		},
		validators: chaintypes.ValidatorsData{},
	}
	st := newFakeStore()
	obs := New(Config{OwnChainID: 2}, chain, st)

	if err := obs.OnNewBlock(context.Background(), chaintypes.BlockHeader{Height: 10}); err != nil {
		t.Fatalf("on new block: %v", err)
	}

	rec, ok := st.ccmsAtHeight[10]
	if !ok {
		t.Fatalf("expected ccms persisted at height 10")
	}
	if len(rec.CCMs) != 1 || rec.CCMs[0].Nonce != 1 {
		t.Fatalf("expected only forwarded ccm, got %+v", rec.CCMs)
	}
}

func TestOnNewBlockForwardsBouncedWhenConfigured(t *testing.T) {
	ccmBounced := chaintypes.CCM{Nonce: 2, SendingChainID: 1}
	chain := &fakeChain{
		events: []chaintypes.RawEvent{
			rawEvent(t, eventModuleInteroperability, eventNameCCMProcessed, ccmProcessedData{CCM: ccmBounced, Result: chaintypes.CCMStatusBounced}),
		},
	}
	st := newFakeStore()
	obs := New(Config{OwnChainID: 2, ForwardBouncedCCMs: true}, chain, st)

	if err := obs.OnNewBlock(context.Background(), chaintypes.BlockHeader{Height: 10}); err != nil {
		t.Fatalf("on new block: %v", err)
	}
	rec := st.ccmsAtHeight[10]
	if len(rec.CCMs) != 1 || rec.CCMs[0].Nonce != 2 {
		t.Fatalf("expected bounced ccm forwarded, got %+v", rec.CCMs)
	}
}

func TestOnNewBlockSkipsStateProveWhenNoCCMs(t *testing.T) {
	chain := &fakeChain{}
	st := newFakeStore()
	obs := New(Config{OwnChainID: 3}, chain, st)

	if err := obs.OnNewBlock(context.Background(), chaintypes.BlockHeader{Height: 4}); err != nil {
		t.Fatalf("on new block: %v", err)
	}
	if chain.provedKey != nil {
		t.Fatalf("expected no state_prove call when there are no ccms")
	}
	if _, ok := st.ccmsAtHeight[4]; ok {
		t.Fatalf("expected no ccms record written")
	}
	if _, ok := st.headers[4]; !ok {
		t.Fatalf("expected header persisted regardless")
	}
}

func TestOnNewBlockPersistsValidatorsAndAggregateCommit(t *testing.T) {
	vdata := chaintypes.ValidatorsData{ValidatorsHash: []byte{0xaa}, CertificateThreshold: 7}
	ac := chaintypes.AggregateCommit{Height: 6}
	chain := &fakeChain{validators: vdata}
	st := newFakeStore()
	obs := New(Config{OwnChainID: 1}, chain, st)

	header := chaintypes.BlockHeader{Height: 6, AggregateCommit: &ac}
	if err := obs.OnNewBlock(context.Background(), header); err != nil {
		t.Fatalf("on new block: %v", err)
	}
	if _, ok := st.validators[string(vdata.ValidatorsHash)]; !ok {
		t.Fatalf("expected validators persisted")
	}
	if _, ok := st.aggregateCommits[6]; !ok {
		t.Fatalf("expected aggregate commit persisted")
	}
}

func TestOnDeleteBlockRemovesHeaderCommitAndMatchingValidators(t *testing.T) {
	st := newFakeStore()
	hash := chaintypes.HexBytes{0x01}
	st.headers[9] = chaintypes.BlockHeader{Height: 9, ValidatorsHash: hash}
	st.aggregateCommits[9] = chaintypes.AggregateCommit{Height: 9}
	st.validators[string(hash)] = chaintypes.ValidatorsData{ValidatorsHash: hash}

	obs := New(Config{}, &fakeChain{}, st)
	if err := obs.OnDeleteBlock(context.Background(), chaintypes.BlockHeader{Height: 9, ValidatorsHash: hash}); err != nil {
		t.Fatalf("on delete block: %v", err)
	}
	if _, ok := st.headers[9]; ok {
		t.Fatalf("expected header deleted")
	}
	if _, ok := st.aggregateCommits[9]; ok {
		t.Fatalf("expected aggregate commit deleted")
	}
	if _, ok := st.validators[string(hash)]; ok {
		t.Fatalf("expected matching validators deleted")
	}
}

func TestOnNewBlockSkipsMalformedEventButPersistsHeader(t *testing.T) {
	ccmForwarded := chaintypes.CCM{Nonce: 1, SendingChainID: 1}
	chain := &fakeChain{
		events: []chaintypes.RawEvent{
			{Module: eventModuleInteroperability, Name: eventNameCCMSendSuccess, Data: chaintypes.HexBytes("not-json")},
			{Module: eventModuleInteroperability, Name: eventNameCCMProcessed, Data: chaintypes.HexBytes("also-not-json")},
			rawEvent(t, eventModuleInteroperability, eventNameCCMSendSuccess, ccmSendSuccessData{CCM: ccmForwarded}),
		},
	}
	st := newFakeStore()
	obs := New(Config{OwnChainID: 2}, chain, st)

	if err := obs.OnNewBlock(context.Background(), chaintypes.BlockHeader{Height: 10}); err != nil {
		t.Fatalf("on new block: %v", err)
	}

	rec, ok := st.ccmsAtHeight[10]
	if !ok {
		t.Fatalf("expected ccms persisted at height 10 despite malformed events")
	}
	if len(rec.CCMs) != 1 || rec.CCMs[0].Nonce != 1 {
		t.Fatalf("expected only the well-formed ccm, got %+v", rec.CCMs)
	}
	if _, ok := st.headers[10]; !ok {
		t.Fatalf("expected header persisted despite malformed events earlier in the block")
	}
}

func TestOutboxKeyConcatenatesPrefixAndChainID(t *testing.T) {
	key := outboxKey(0x00000002)
	want := []byte{0x83, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02}
	if string(key) != string(want) {
		t.Fatalf("unexpected outbox key: %x, want %x", key, want)
	}
}
